package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"

	"github.com/spec-kit/security-ir-jira/internal/domain"
)

// DynamoAPI is the subset of the DynamoDB client used by the store.
type DynamoAPI interface {
	GetItemWithContext(ctx aws.Context, input *dynamodb.GetItemInput, opts ...request.Option) (*dynamodb.GetItemOutput, error)
	PutItemWithContext(ctx aws.Context, input *dynamodb.PutItemInput, opts ...request.Option) (*dynamodb.PutItemOutput, error)
	TransactWriteItemsWithContext(ctx aws.Context, input *dynamodb.TransactWriteItemsInput, opts ...request.Option) (*dynamodb.TransactWriteItemsOutput, error)
}

const (
	sortKeyLink      = "TICKET_LINK"
	sortKeySnapshot  = "SNAPSHOT"
	sortKeyProcessed = "PROCESSED"
	sortKeyWatermark = "WATERMARK"
)

type linkItem struct {
	PK        string    `dynamodbav:"PK"`
	SK        string    `dynamodbav:"SK"`
	CaseID    string    `dynamodbav:"caseId"`
	TicketKey string    `dynamodbav:"ticketKey"`
	TicketID  string    `dynamodbav:"ticketId"`
	CreatedAt time.Time `dynamodbav:"createdAt"`
}

type snapshotItem struct {
	PK            string    `dynamodbav:"PK"`
	SK            string    `dynamodbav:"SK"`
	CaseID        string    `dynamodbav:"caseId"`
	Status        string    `dynamodbav:"status"`
	ContentHash   string    `dynamodbav:"contentHash"`
	CommentIDs    []string  `dynamodbav:"commentIds"`
	AttachmentIDs []string  `dynamodbav:"attachmentIds"`
	CaseUpdatedAt time.Time `dynamodbav:"caseUpdatedAt"`
	SyncedAt      time.Time `dynamodbav:"syncedAt"`
}

type processedItem struct {
	PK          string    `dynamodbav:"PK"`
	SK          string    `dynamodbav:"SK"`
	Consumer    string    `dynamodbav:"consumer"`
	EventID     string    `dynamodbav:"eventId"`
	ProcessedAt time.Time `dynamodbav:"processedAt"`
	ExpiresAt   int64     `dynamodbav:"expiresAt"`
}

type watermarkItem struct {
	PK        string    `dynamodbav:"PK"`
	SK        string    `dynamodbav:"SK"`
	Poller    string    `dynamodbav:"poller"`
	Watermark time.Time `dynamodbav:"watermark"`
}

func casePK(caseID string) string { return "CASE#" + caseID }
func ticketPK(ticketKey string) string { return "TICKET#" + ticketKey }
func eventPK(consumer, id string) string { return "EVENT#" + consumer + "#" + id }
func pollerPK(name string) string { return "POLLER#" + name }

func itemKey(pk, sk string) map[string]*dynamodb.AttributeValue {
	return map[string]*dynamodb.AttributeValue{
		"PK": {S: aws.String(pk)},
		"SK": {S: aws.String(sk)},
	}
}

// DynamoStore keeps links, snapshots, processed events and poller
// watermarks in a single table keyed by PK/SK.
type DynamoStore struct {
	client       DynamoAPI
	table        string
	processedTTL time.Duration
	now          func() time.Time
}

// NewDynamoStore creates a store over table. processedTTL bounds how long
// processed event markers are retained; zero keeps them forever.
func NewDynamoStore(client DynamoAPI, table string, processedTTL time.Duration) *DynamoStore {
	return &DynamoStore{client: client, table: table, processedTTL: processedTTL, now: time.Now}
}

// Store exposes the DynamoDB backend as a repository bundle.
func (s *DynamoStore) Store() *Store {
	return &Store{Links: s, Snapshots: dynamoSnapshots{s}, Processed: s, Watermarks: s}
}

// Create writes both directions of the link in one transaction so that
// neither side can be claimed twice.
func (s *DynamoStore) Create(ctx context.Context, link *domain.TicketLink) error {
	if link.CreatedAt.IsZero() {
		link.CreatedAt = s.now().UTC()
	}
	byCase, err := dynamodbattribute.MarshalMap(linkItem{
		PK: casePK(link.CaseID), SK: sortKeyLink,
		CaseID: link.CaseID, TicketKey: link.TicketKey, TicketID: link.TicketID, CreatedAt: link.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	byTicket, err := dynamodbattribute.MarshalMap(linkItem{
		PK: ticketPK(link.TicketKey), SK: sortKeyLink,
		CaseID: link.CaseID, TicketKey: link.TicketKey, TicketID: link.TicketID, CreatedAt: link.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal link: %w", err)
	}
	cond := aws.String("attribute_not_exists(PK)")
	_, err = s.client.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Put: &dynamodb.Put{TableName: aws.String(s.table), Item: byCase, ConditionExpression: cond}},
			{Put: &dynamodb.Put{TableName: aws.String(s.table), Item: byTicket, ConditionExpression: cond}},
		},
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == dynamodb.ErrCodeTransactionCanceledException {
			return ErrLinkExists
		}
		return fmt.Errorf("write ticket link: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetByCaseID(ctx context.Context, caseID string) (*domain.TicketLink, error) {
	return s.getLink(ctx, casePK(caseID))
}

func (s *DynamoStore) GetByTicketKey(ctx context.Context, ticketKey string) (*domain.TicketLink, error) {
	return s.getLink(ctx, ticketPK(ticketKey))
}

func (s *DynamoStore) getLink(ctx context.Context, pk string) (*domain.TicketLink, error) {
	var item linkItem
	if err := s.getItem(ctx, pk, sortKeyLink, &item); err != nil {
		return nil, err
	}
	return &domain.TicketLink{
		CaseID:    item.CaseID,
		TicketKey: item.TicketKey,
		TicketID:  item.TicketID,
		CreatedAt: item.CreatedAt,
	}, nil
}

func (s *DynamoStore) getItem(ctx context.Context, pk, sk string, out any) error {
	res, err := s.client.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            itemKey(pk, sk),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return fmt.Errorf("get item %s: %w", pk, err)
	}
	if len(res.Item) == 0 {
		return ErrNotFound
	}
	if err := dynamodbattribute.UnmarshalMap(res.Item, out); err != nil {
		return fmt.Errorf("unmarshal item %s: %w", pk, err)
	}
	return nil
}

func (s *DynamoStore) IsProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	var item processedItem
	err := s.getItem(ctx, eventPK(consumer, eventID), sortKeyProcessed, &item)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	if item.ExpiresAt > 0 && s.now().Unix() >= item.ExpiresAt {
		return false, nil
	}
	return true, nil
}

func (s *DynamoStore) MarkProcessed(ctx context.Context, consumer, eventID string) error {
	now := s.now().UTC()
	item := processedItem{
		PK: eventPK(consumer, eventID), SK: sortKeyProcessed,
		Consumer: consumer, EventID: eventID, ProcessedAt: now,
	}
	if s.processedTTL > 0 {
		item.ExpiresAt = now.Add(s.processedTTL).Unix()
	}
	av, err := dynamodbattribute.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal processed event: %w", err)
	}
	if _, err := s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put processed event: %w", err)
	}
	return nil
}

type dynamoSnapshots struct {
	s *DynamoStore
}

func (d dynamoSnapshots) Get(ctx context.Context, caseID string) (*domain.CaseSnapshot, error) {
	var item snapshotItem
	if err := d.s.getItem(ctx, casePK(caseID), sortKeySnapshot, &item); err != nil {
		return nil, err
	}
	return &domain.CaseSnapshot{
		CaseID:        item.CaseID,
		Status:        domain.CaseStatus(item.Status),
		ContentHash:   item.ContentHash,
		CommentIDs:    item.CommentIDs,
		AttachmentIDs: item.AttachmentIDs,
		CaseUpdatedAt: item.CaseUpdatedAt,
		SyncedAt:      item.SyncedAt,
	}, nil
}

func (d dynamoSnapshots) Save(ctx context.Context, snap *domain.CaseSnapshot) error {
	av, err := dynamodbattribute.MarshalMap(snapshotItem{
		PK: casePK(snap.CaseID), SK: sortKeySnapshot,
		CaseID:        snap.CaseID,
		Status:        string(snap.Status),
		ContentHash:   snap.ContentHash,
		CommentIDs:    snap.CommentIDs,
		AttachmentIDs: snap.AttachmentIDs,
		CaseUpdatedAt: snap.CaseUpdatedAt,
		SyncedAt:      snap.SyncedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if _, err := d.s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(d.s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put snapshot: %w", err)
	}
	return nil
}

func (s *DynamoStore) GetWatermark(ctx context.Context, poller string) (time.Time, error) {
	var item watermarkItem
	if err := s.getItem(ctx, pollerPK(poller), sortKeyWatermark, &item); err != nil {
		return time.Time{}, err
	}
	return item.Watermark, nil
}

func (s *DynamoStore) SaveWatermark(ctx context.Context, poller string, at time.Time) error {
	av, err := dynamodbattribute.MarshalMap(watermarkItem{
		PK: pollerPK(poller), SK: sortKeyWatermark,
		Poller:    poller,
		Watermark: at.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal watermark: %w", err)
	}
	if _, err := s.client.PutItemWithContext(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      av,
	}); err != nil {
		return fmt.Errorf("put watermark: %w", err)
	}
	return nil
}
