package userinfra

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/Abraxas-365/warden/pkg/storex/storexdynamo"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item kinds and key prefixes in the users table. A user item is paired with
// one lock item per unique value it claims, so uniqueness holds through
// conditional transactions.
const (
	kindUser     = "user"
	kindUsername = "username"
	kindIdentity = "identity"

	condAbsent  = "attribute_not_exists(pk)"
	condVersion = "#ver = :ver"
	condOwner   = "#uid = :uid"

	// updateAttempts bounds optimistic-lock retries.
	updateAttempts = 3
)

func userKey(id kernel.UserID) string { return kindUser + "#" + id.String() }
func usernameKey(name string) string  { return kindUsername + "#" + strings.ToLower(name) }
func identityKey(provider, subject string) string {
	return kindIdentity + "#" + provider + "#" + subject
}

// DynamoRepository stores users in a single DynamoDB table.
type DynamoRepository struct {
	api     storexdynamo.API
	table   string
	timeout time.Duration
	now     kernel.Clock
}

func NewDynamoRepository(api storexdynamo.API, table string, timeout time.Duration) *DynamoRepository {
	return &DynamoRepository{api: api, table: table, timeout: timeout, now: kernel.SystemClock}
}

func (r *DynamoRepository) Name() string { return storexdynamo.BackendName }

func (r *DynamoRepository) Ping(ctx context.Context) error {
	return storexdynamo.Ping(ctx, r.api, r.table)
}

// ============================================================================
// Item mapping
// ============================================================================

func toItem(u *user.User, version int64) storexdynamo.Item {
	ids := map[string]string(u.Identities)
	if ids == nil {
		ids = map[string]string{}
	}
	return storexdynamo.Item{
		storexdynamo.PartitionKey: storexdynamo.S(userKey(u.ID)),
		"kind":                    storexdynamo.S(kindUser),
		"id":                      storexdynamo.S(u.ID.String()),
		"username":                storexdynamo.S(u.Username),
		"email":                   storexdynamo.S(u.Email),
		"password_hash":           storexdynamo.S(u.PasswordHash),
		"role":                    storexdynamo.S(u.Role.String()),
		"identities":              storexdynamo.StringMap(ids),
		"created_at":              storexdynamo.Time(u.CreatedAt),
		"updated_at":              storexdynamo.Time(u.UpdatedAt),
		"version":                 storexdynamo.N(version),
	}
}

func fromItem(it storexdynamo.Item) (*user.User, int64, error) {
	role, err := user.ParseRole(storexdynamo.GetS(it, "role"))
	if err != nil {
		return nil, 0, err
	}
	created, err := storexdynamo.GetTime(it, "created_at")
	if err != nil {
		return nil, 0, err
	}
	updated, err := storexdynamo.GetTime(it, "updated_at")
	if err != nil {
		return nil, 0, err
	}
	return &user.User{
		ID:           kernel.UserID(storexdynamo.GetS(it, "id")),
		Username:     storexdynamo.GetS(it, "username"),
		Email:        storexdynamo.GetS(it, "email"),
		PasswordHash: storexdynamo.GetS(it, "password_hash"),
		Role:         role,
		Identities:   user.Identities(storexdynamo.GetStringMap(it, "identities")),
		CreatedAt:    created,
		UpdatedAt:    updated,
	}, storexdynamo.GetN(it, "version"), nil
}

func lockItem(pk, kind string, id kernel.UserID) storexdynamo.Item {
	return storexdynamo.Item{
		storexdynamo.PartitionKey: storexdynamo.S(pk),
		"kind":                    storexdynamo.S(kind),
		"user_id":                 storexdynamo.S(id.String()),
	}
}

func (r *DynamoRepository) putAbsent(it storexdynamo.Item) types.TransactWriteItem {
	return types.TransactWriteItem{Put: &types.Put{
		TableName:           aws.String(r.table),
		Item:                it,
		ConditionExpression: aws.String(condAbsent),
	}}
}

func (r *DynamoRepository) deleteOwned(pk string, id kernel.UserID) types.TransactWriteItem {
	return types.TransactWriteItem{Delete: &types.Delete{
		TableName:                 aws.String(r.table),
		Key:                       storexdynamo.Key(pk),
		ConditionExpression:       aws.String(condOwner),
		ExpressionAttributeNames:  map[string]string{"#uid": "user_id"},
		ExpressionAttributeValues: map[string]types.AttributeValue{":uid": storexdynamo.S(id.String())},
	}}
}

// ============================================================================
// Provider
// ============================================================================

func (r *DynamoRepository) Get(ctx context.Context, id kernel.UserID) (*user.User, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		u, _, err := r.load(ctx, id)
		return u, err
	})
}

func (r *DynamoRepository) load(ctx context.Context, id kernel.UserID) (*user.User, int64, error) {
	out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            storexdynamo.Key(userKey(id)),
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

// Create writes the user and its lock items in one transaction.
func (r *DynamoRepository) Create(ctx context.Context, u user.User) (*user.User, error) {
	stored := u.Clone()
	items := []types.TransactWriteItem{
		r.putAbsent(toItem(stored, 1)),
		r.putAbsent(lockItem(usernameKey(u.Username), kindUsername, u.ID)),
	}
	for provider, subject := range u.Identities {
		items = append(items, r.putAbsent(lockItem(identityKey(provider, subject), kindIdentity, u.ID)))
	}

	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		_, err := r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if idx, ok := storexdynamo.TxConditionFailed(err); ok {
			return nil, storex.ErrConflict(storexdynamo.BackendName, conflictField(idx)).WithCause(err)
		}
		if err != nil {
			return nil, err
		}
		return stored.Clone(), nil
	})
}

func conflictField(idx int) string {
	switch idx {
	case 0:
		return "id"
	case 1:
		return "username"
	default:
		return "identity"
	}
}

// Update is read-modify-write guarded by a version attribute. Lock items are
// moved in the same transaction when the username or identities change.
func (r *DynamoRepository) Update(ctx context.Context, id kernel.UserID, patch user.Patch) (*user.User, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		var lastErr error
		for range updateAttempts {
			current, version, err := r.load(ctx, id)
			if err != nil {
				return nil, err
			}
			next := current.Clone()
			patch.Apply(next, r.now())

			items := []types.TransactWriteItem{{Put: &types.Put{
				TableName:                 aws.String(r.table),
				Item:                      toItem(next, version+1),
				ConditionExpression:       aws.String(condVersion),
				ExpressionAttributeNames:  map[string]string{"#ver": "version"},
				ExpressionAttributeValues: map[string]types.AttributeValue{":ver": storexdynamo.N(version)},
			}}}
			items = append(items, r.lockMoves(current, next)...)

			_, err = r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
			idx, failed := storexdynamo.TxConditionFailed(err)
			switch {
			case err == nil:
				return next, nil
			case failed && idx == 0:
				lastErr = err
				continue
			case failed:
				return nil, storex.ErrConflict(storexdynamo.BackendName, lockField(items[idx])).WithCause(err)
			default:
				return nil, err
			}
		}
		return nil, storex.ErrConflict(storexdynamo.BackendName, "version").WithCause(lastErr)
	})
}

func (r *DynamoRepository) lockMoves(before, after *user.User) []types.TransactWriteItem {
	var items []types.TransactWriteItem
	if !strings.EqualFold(before.Username, after.Username) {
		items = append(items,
			r.putAbsent(lockItem(usernameKey(after.Username), kindUsername, after.ID)),
			r.deleteOwned(usernameKey(before.Username), before.ID),
		)
	}
	for provider, subject := range after.Identities {
		if old, ok := before.Identities[provider]; ok && old == subject {
			continue
		}
		items = append(items, r.putAbsent(lockItem(identityKey(provider, subject), kindIdentity, after.ID)))
	}
	for provider, subject := range before.Identities {
		if cur, ok := after.Identities[provider]; ok && cur == subject {
			continue
		}
		items = append(items, r.deleteOwned(identityKey(provider, subject), before.ID))
	}
	return items
}

func lockField(ti types.TransactWriteItem) string {
	var it storexdynamo.Item
	if ti.Put != nil {
		it = ti.Put.Item
	}
	if storexdynamo.GetS(it, "kind") == kindIdentity {
		return "identity"
	}
	return "username"
}

func (r *DynamoRepository) Delete(ctx context.Context, id kernel.UserID) error {
	return storex.Exec(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) error {
		u, version, err := r.load(ctx, id)
		if err != nil {
			return err
		}
		items := []types.TransactWriteItem{
			{Delete: &types.Delete{
				TableName:                 aws.String(r.table),
				Key:                       storexdynamo.Key(userKey(id)),
				ConditionExpression:       aws.String(condVersion),
				ExpressionAttributeNames:  map[string]string{"#ver": "version"},
				ExpressionAttributeValues: map[string]types.AttributeValue{":ver": storexdynamo.N(version)},
			}},
			r.deleteOwned(usernameKey(u.Username), id),
		}
		for provider, subject := range u.Identities {
			items = append(items, r.deleteOwned(identityKey(provider, subject), id))
		}

		_, err = r.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{TransactItems: items})
		if _, ok := storexdynamo.TxConditionFailed(err); ok {
			// Raced with another writer; it is gone or changed under us.
			return storex.ErrNotFound(storexdynamo.BackendName).WithCause(err)
		}
		return err
	})
}

func (r *DynamoRepository) Exists(ctx context.Context, id kernel.UserID) (bool, error) {
	_, err := r.Get(ctx, id)
	if storex.IsNotFound(err) {
		return false, nil
	}
	return err == nil, err
}

// ============================================================================
// Lookups
// ============================================================================

func (r *DynamoRepository) FindByUsername(ctx context.Context, username string) (*user.User, error) {
	return r.followLock(ctx, usernameKey(username))
}

func (r *DynamoRepository) FindByIdentity(ctx context.Context, provider, subject string) (*user.User, error) {
	return r.followLock(ctx, identityKey(provider, subject))
}

func (r *DynamoRepository) followLock(ctx context.Context, pk string) (*user.User, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		out, err := r.api.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(r.table),
			Key:            storexdynamo.Key(pk),
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return nil, err
		}
		if len(out.Item) == 0 {
			return nil, storex.ErrNotFound(storexdynamo.BackendName)
		}
		u, _, err := r.load(ctx, kernel.UserID(storexdynamo.GetS(out.Item, "user_id")))
		return u, err
	})
}

// FindByEmail scans; email is not unique and has no lock item.
func (r *DynamoRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (*user.User, error) {
		items, err := storexdynamo.ScanAll(ctx, r.api, &dynamodb.ScanInput{
			TableName:                aws.String(r.table),
			FilterExpression:         aws.String("#kind = :kind AND #email = :email"),
			ExpressionAttributeNames: map[string]string{"#kind": "kind", "#email": "email"},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":kind":  storexdynamo.S(kindUser),
				":email": storexdynamo.S(email),
			},
		}, 0)
		if err != nil {
			return nil, err
		}
		if email == "" || len(items) == 0 {
			return nil, storex.ErrNotFound(storexdynamo.BackendName)
		}

		users := make([]*user.User, 0, len(items))
		for _, it := range items {
			u, _, err := fromItem(it)
			if err != nil {
				return nil, err
			}
			users = append(users, u)
		}
		sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.Before(users[j].CreatedAt) })
		return users[0], nil
	})
}

func (r *DynamoRepository) Count(ctx context.Context) (int, error) {
	return storex.Call(ctx, storexdynamo.BackendName, r.timeout, func(ctx context.Context) (int, error) {
		in := &dynamodb.ScanInput{
			TableName:                 aws.String(r.table),
			Select:                    types.SelectCount,
			FilterExpression:          aws.String("#kind = :kind"),
			ExpressionAttributeNames:  map[string]string{"#kind": "kind"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":kind": storexdynamo.S(kindUser)},
		}
		total := 0
		for {
			page, err := r.api.Scan(ctx, in)
			if err != nil {
				return 0, err
			}
			total += int(page.Count)
			if len(page.LastEvaluatedKey) == 0 {
				return total, nil
			}
			in.ExclusiveStartKey = page.LastEvaluatedKey
		}
	})
}

var _ user.Repository = (*DynamoRepository)(nil)
