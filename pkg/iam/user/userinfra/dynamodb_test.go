package userinfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/warden/pkg/ptrx"
	"github.com/Abraxas-365/warden/pkg/storex"
	"github.com/Abraxas-365/warden/pkg/storex/storexdynamo/dynamotest"
)

func newDynamo(t *testing.T) (*userinfra.DynamoRepository, *dynamotest.Fake) {
	t.Helper()
	fake := dynamotest.New("users")
	return userinfra.NewDynamoRepository(fake, "users", time.Second), fake
}

func TestDynamoCreateAndLookups(t *testing.T) {
	ctx := context.Background()
	repo, fake := newDynamo(t)
	u := newUser("alice")
	u.Email = "alice@example.com"
	u.Identities = user.Identities{"github": "42"}

	if _, err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}
	// user item, username lock, identity lock
	if fake.Len() != 3 {
		t.Fatalf("expected 3 items, got %d", fake.Len())
	}

	byName, err := repo.FindByUsername(ctx, "ALICE")
	if err != nil || byName.ID != u.ID {
		t.Fatalf("find by username: %v %v", byName, err)
	}
	byIdentity, err := repo.FindByIdentity(ctx, "github", "42")
	if err != nil || byIdentity.ID != u.ID {
		t.Fatalf("find by identity: %v %v", byIdentity, err)
	}
	byEmail, err := repo.FindByEmail(ctx, "alice@example.com")
	if err != nil || byEmail.ID != u.ID {
		t.Fatalf("find by email: %v %v", byEmail, err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
}

func TestDynamoDuplicateUsernameIsConflict(t *testing.T) {
	ctx := context.Background()
	repo, _ := newDynamo(t)
	repo.Create(ctx, newUser("alice"))

	_, err := repo.Create(ctx, newUser("Alice"))
	if !storex.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if n, _ := repo.Count(ctx); n != 1 {
		t.Fatalf("expected count 1, got %d", n)
	}
}

func TestDynamoRenameMovesLock(t *testing.T) {
	ctx := context.Background()
	repo, fake := newDynamo(t)
	u := newUser("bob")
	repo.Create(ctx, u)

	got, err := repo.Update(ctx, u.ID, user.Patch{Username: ptrx.String("robert")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Username != "robert" {
		t.Fatalf("expected rename, got %q", got.Username)
	}
	if _, ok := fake.Item("username#bob"); ok {
		t.Fatal("old username lock should be released")
	}
	if _, ok := fake.Item("username#robert"); !ok {
		t.Fatal("new username lock missing")
	}
}

func TestDynamoDeleteReleasesLocks(t *testing.T) {
	ctx := context.Background()
	repo, fake := newDynamo(t)
	u := newUser("carol")
	u.Identities = user.Identities{"google": "g-7"}
	repo.Create(ctx, u)

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if fake.Len() != 0 {
		t.Fatalf("expected empty table, got %d items", fake.Len())
	}
	if err := repo.Delete(ctx, u.ID); !storex.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDynamoPingMissingTable(t *testing.T) {
	fake := dynamotest.New("other")
	repo := userinfra.NewDynamoRepository(fake, "users", time.Second)

	if err := storex.Probe(context.Background(), repo, time.Second); !storex.IsUnreachable(err) {
		t.Fatalf("expected unreachable, got %v", err)
	}
}
