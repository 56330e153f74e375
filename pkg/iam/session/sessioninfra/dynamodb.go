package sessioninfra

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/session"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/Abraxas-365/warden/pkg/storex/storexdynamo"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoRepository keeps one item per session, keyed by the session id.
// "expires_epoch" is meant for the table's native TTL setting; the reaper
// does not depend on it.
type DynamoRepository struct {
	api     storexdynamo.API
	table   string
	timeout time.Duration

	// reapFrom is where the next bounded ListReapable scan resumes. Nil
	// means the start of the table.
	reapMu   sync.Mutex
	reapFrom map[string]types.AttributeValue
}

func NewDynamoRepository(api storexdynamo.API, table string, timeout time.Duration) *DynamoRepository {
	return &DynamoRepository{api: api, table: table, timeout: timeout}
}

func toItem(s *session.Session, version int64) storexdynamo.Item {
	meta := s.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	it := storexdynamo.Item{
		storexdynamo.PartitionKey: storexdynamo.S(s.ID.String()),
		"user_id":                 storexdynamo.S(s.UserID.String()),
		"scheme":                  storexdynamo.S(s.Scheme),
		"created_at":              storexdynamo.Time(s.CreatedAt),
		"expires_at":              storexdynamo.Time(s.ExpiresAt),
		"expires_epoch":           storexdynamo.N(s.ExpiresAt.Unix()),
		"ttl_ms":                  storexdynamo.N(s.TTL.Milliseconds()),
		"metadata":                storexdynamo.StringMap(meta),
		"version":                 storexdynamo.N(version),
	}
	if s.RevokedAt != nil {
		it["revoked_at"] = storexdynamo.Time(*s.RevokedAt)
	}
	return it
}

func fromItem(it storexdynamo.Item) (*session.Session, int64, error) {
	created, err := storexdynamo.GetTime(it, "created_at")
	if err != nil {
		return nil, 0, err
	}
	expires, err := storexdynamo.GetTime(it, "expires_at")
	if err != nil {
		return nil, 0, err
	}
	s := &session.Session{
		ID:        kernel.SessionID(storexdynamo.GetS(it, storexdynamo.PartitionKey)),
		UserID:    kernel.UserID(storexdynamo.GetS(it, "user_id")),
		Scheme:    storexdynamo.GetS(it, "scheme"),
		CreatedAt: created,
		ExpiresAt: expires,
		TTL:       time.Duration(storexdynamo.GetN(it, "ttl_ms")) * time.Millisecond,
		Metadata:  storexdynamo.GetStringMap(it, "metadata"),
	}
	if _, ok := it["revoked_at"]; ok {
		t, err := storexdynamo.GetTime(it, "revoked_at")
		if err != nil {
			return nil, 0, err
		}
		s.RevokedAt = &t
	}
	return s, storexdynamo.GetN(it, "version"), nil
}

func (r *DynamoRepository) Name() string { return storexdynamo.BackendName }

func (r *DynamoRepository) Ping(ctx context.Context) error {
	return storexdynamo.Ping(ctx, r.api, r.table)
}

func (r *DynamoRepository) Get(ctx context.Context, id kernel.SessionID) (*session.Session, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		s, _, err := r.load(ctx, id)
		return s, err
	})
}

func (r *DynamoRepository) load(ctx context.Context, id kernel.SessionID) (*session.Session, int64, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            storexdynamo.Key(id.String()),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, 0, err
	}
	if len(out.Item) == 0 {
		return nil, 0, storex.ErrNotFound(storexdynamo.BackendName)
	}
	return fromItem(out.Item)
}

func (r *DynamoRepository) Create(ctx context.Context, s session.Session) (*session.Session, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		_, err := r.api.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:           aws.String(r.table),
			Item:                toItem(&s, 1),
			ConditionExpression: aws.String("attribute_not_exists(pk)"),
		})
		if storexdynamo.ConditionFailed(err) {
			return nil, storex.ErrConflict(storexdynamo.BackendName, "id").WithCause(err)
		}
		if err != nil {
			return nil, err
		}
		return s.Clone(), nil
	})
}

// Update is read-modify-write guarded by the version attribute.
func (r *DynamoRepository) Update(ctx context.Context, id kernel.SessionID, patch session.Patch) (*session.Session, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*session.Session, error) {
		var lastErr error
		for range writeAttempts {
			s, version, err := r.load(ctx, id)
			if err != nil {
				return nil, err
			}
			patch.Apply(s)

			_, err = r.api.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:                 aws.String(r.table),
				Item:                      toItem(s, version+1),
				ConditionExpression:       aws.String("#ver = :ver"),
				ExpressionAttributeNames:  map[string]string{"#ver": "version"},
				ExpressionAttributeValues: map[string]types.AttributeValue{":ver": storexdynamo.N(version)},
			})
			if err == nil {
				return s, nil
			}
			if !storexdynamo.ConditionFailed(err) {
				return nil, err
			}
			lastErr = err
		}
		return nil, storex.ErrConflict(storexdynamo.BackendName, "version").WithCause(lastErr)
	})
}

func (r *DynamoRepository) Delete(ctx context.Context, id kernel.SessionID) error {
	return storex.Exec(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) error {
		_, err := r.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:           aws.String(r.table),
			Key:                 storexdynamo.Key(id.String()),
			ConditionExpression: aws.String("attribute_exists(pk)"),
		})
		if storexdynamo.ConditionFailed(err) {
			return storex.ErrNotFound(storexdynamo.BackendName)
		}
		return err
	})
}

func (r *DynamoRepository) Exists(ctx context.Context, id kernel.SessionID) (bool, error) {
	_, err := r.Get(ctx, id)
	if storex.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

func (r *DynamoRepository) ListByUser(ctx context.Context, userID kernel.UserID) ([]*session.Session, error) {
	return r.scan(ctx, &dynamodb.ScanInput{
		TableName:                 aws.String(r.table),
		FilterExpression:          aws.String("#uid = :uid"),
		ExpressionAttributeNames:  map[string]string{"#uid": "user_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": storexdynamo.S(userID.String())},
	})
}

// ListReapable with a positive limit reads a single scan page of at most
// limit items, starting where the previous call stopped and wrapping at the
// end of the table. A run may therefore return fewer than limit sessions, or
// none, while later pages still hold dead ones. limit <= 0 scans everything.
func (r *DynamoRepository) ListReapable(ctx context.Context, now time.Time, limit int) ([]*session.Session, error) {
	in := &dynamodb.ScanInput{
		TableName:                 aws.String(r.table),
		FilterExpression:          aws.String("#exp <= :now OR attribute_exists(#rev)"),
		ExpressionAttributeNames:  map[string]string{"#exp": "expires_at", "#rev": "revoked_at"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":now": storexdynamo.Time(now)},
	}
	if limit <= 0 {
		return r.scan(ctx, in)
	}

	r.reapMu.Lock()
	defer r.reapMu.Unlock()

	in.Limit = aws.Int32(int32(min(limit, math.MaxInt32)))
	in.ExclusiveStartKey = r.reapFrom
	page, err := storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*dynamodb.ScanOutput, error) {
		return r.api.Scan(ctx, in)
	})
	if err != nil {
		return nil, err
	}
	r.reapFrom = page.LastEvaluatedKey
	return toSessions(page.Items)
}

func (r *DynamoRepository) scan(ctx context.Context, in *dynamodb.ScanInput) ([]*session.Session, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) ([]*session.Session, error) {
		items, err := storexdynamo.ScanAll(ctx, r.api, in, 0)
		if err != nil {
			return nil, err
		}
		return toSessions(items)
	})
}

// toSessions decodes items, soonest expiry first.
func toSessions(items []storexdynamo.Item) ([]*session.Session, error) {
	out := make([]*session.Session, 0, len(items))
	for _, it := range items {
		s, _, err := fromItem(it)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out, nil
}

var _ session.Repository = (*DynamoRepository)(nil)
