package lockdao

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/savaki/ddb/v2"
)

const (
	lockSK  = "LOCK"
	lockTTL = time.Hour
)

// PK represents the partition key: {Org}/{Project}
type PK string

// NewPK creates a partition key from org and project
func NewPK(org, project string) PK {
	return PK(org + "/" + project)
}

// ParsePK splits a partition key into org and project
func ParsePK(pk PK) (org, project string, err error) {
	org, project, ok := strings.Cut(string(pk), "/")
	if !ok || org == "" || project == "" || strings.Contains(project, "/") {
		return "", "", fmt.Errorf("invalid PK format: %s, expected {org}/{project}", pk)
	}
	return org, project, nil
}

func (pk PK) String() string {
	return string(pk)
}

// Record represents a deployment lock
type Record struct {
	PK         PK     `ddb:"hash" dynamodbav:"pk"`  // {Org}/{Project}
	SK         string `ddb:"range" dynamodbav:"sk"` // Always "LOCK"
	RunID      string `dynamodbav:"run_id"`         // KSUID of the deploy run holding the lock
	Holder     string `dynamodbav:"holder"`         // user@host of the run
	Commit     string `dynamodbav:"commit"`
	AcquiredAt int64  `dynamodbav:"acquired_at"`
	TTL        int64  `dynamodbav:"ttl"` // Unix timestamp for DynamoDB TTL expiry
}

// Expired reports whether the lock outlived its TTL. DynamoDB deletes expired
// items lazily, so an expired record may still be returned by reads.
func (r *Record) Expired(now time.Time) bool {
	return r.TTL > 0 && now.Unix() >= r.TTL
}

// AcquireInput contains fields for acquiring a deployment lock
type AcquireInput struct {
	Key    PK
	RunID  string
	Holder string
	Commit string
}

// ReleaseInput contains fields for releasing a deployment lock
type ReleaseInput struct {
	Key   PK
	RunID string // must match lock holder
}

// DAO provides data access operations for deployment locks
type DAO struct {
	table *ddb.Table
	ttl   time.Duration
	now   func() time.Time
}

// New creates a new DAO instance
func New(client *dynamodb.Client, tableName string) *DAO {
	return newDAO(client, tableName)
}

func newDAO(api ddb.DynamoDBAPI, tableName string) *DAO {
	db := ddb.New(api)
	return &DAO{
		table: db.MustTable(tableName, &Record{}),
		ttl:   lockTTL,
		now:   time.Now,
	}
}

// CreateTable provisions the lock table when it does not exist yet.
func (d *DAO) CreateTable(ctx context.Context) error {
	if err := d.table.CreateTableIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create lock table: %w", err)
	}
	return nil
}

// Acquire attempts to acquire a deployment lock. It returns the current lock
// record and whether this run holds it. Re-acquiring with the same RunID
// succeeds, as does taking over an expired lock.
//
// The write is conditional so that of two runs racing for a free lock only
// one is granted it.
func (d *DAO) Acquire(ctx context.Context, input AcquireInput) (*Record, bool, error) {
	if _, _, err := ParsePK(input.Key); err != nil {
		return nil, false, err
	}

	for attempt := 0; attempt < 2; attempt++ {
		now := d.now()
		record := Record{
			PK:         input.Key,
			SK:         lockSK,
			RunID:      input.RunID,
			Holder:     input.Holder,
			Commit:     input.Commit,
			AcquiredAt: now.Unix(),
			TTL:        now.Add(d.ttl).Unix(),
		}

		err := d.table.Put(record).
			Condition("(attribute_not_exists(#PK) OR #RunID = ? OR #TTL <= ?)", input.RunID, now.Unix()).
			RunWithContext(ctx)
		if err == nil {
			return &record, true, nil
		}
		if !isConditionFailed(err) {
			return nil, false, fmt.Errorf("failed to acquire lock: %w", err)
		}

		existing, err := d.Find(ctx, input.Key)
		if err != nil {
			return nil, false, fmt.Errorf("failed to check lock: %w", err)
		}
		if existing != nil {
			return existing, false, nil
		}
		// released between the write and the read; try once more
	}

	return nil, false, fmt.Errorf("failed to acquire lock %s: lock changed during acquire", input.Key)
}

// Find retrieves the lock for key. Returns nil if not found
func (d *DAO) Find(ctx context.Context, key PK) (*Record, error) {
	var record Record
	err := d.table.Get(key.String()).
		Range(lockSK).
		ConsistentRead(true).
		ScanWithContext(ctx, &record)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get lock: %w", err)
	}

	if record.PK == "" && record.SK == "" {
		return nil, nil
	}

	return &record, nil
}

// Release releases a deployment lock. Only succeeds if the lock is held by
// input.RunID; releasing a lock that no longer exists is a no-op.
func (d *DAO) Release(ctx context.Context, input ReleaseInput) error {
	err := d.table.Delete(input.Key.String()).
		Range(lockSK).
		Condition("(attribute_not_exists(#PK) OR #RunID = ?)", input.RunID).
		RunWithContext(ctx)
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return fmt.Errorf("failed to release lock: %w", err)
	}

	existing, err := d.Find(ctx, input.Key)
	if err != nil {
		return fmt.Errorf("failed to check lock: %w", err)
	}
	if existing == nil {
		return nil
	}
	return fmt.Errorf("lock not held by run %s (held by %s)", input.RunID, existing.RunID)
}

// Delete removes the lock regardless of holder
func (d *DAO) Delete(ctx context.Context, key PK) error {
	err := d.table.Delete(key.String()).
		Range(lockSK).
		RunWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to delete lock: %w", err)
	}
	return nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

func isNotFound(err error) bool {
	s := err.Error()
	return strings.Contains(s, "item not found") || strings.Contains(s, "ItemNotFound")
}
