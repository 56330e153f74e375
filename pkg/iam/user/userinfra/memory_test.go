package userinfra_test

import (
	"context"
	"testing"
	"time"

	"github.com/Abraxas-365/warden/pkg/iam/user"
	"github.com/Abraxas-365/warden/pkg/iam/user/userinfra"
	"github.com/Abraxas-365/warden/pkg/kernel"
	"github.com/Abraxas-365/warden/pkg/ptrx"
	"github.com/Abraxas-365/warden/pkg/storex"
)

func newUser(name string) user.User {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return user.User{
		ID:           kernel.NewUserID(),
		Username:     name,
		PasswordHash: "$argon2id$stub",
		Role:         user.RoleUser,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestMemoryCreateRejectsCaseInsensitiveDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := userinfra.NewMemoryRepository()

	if _, err := repo.Create(ctx, newUser("alice")); err != nil {
		t.Fatalf("create: %v", err)
	}
	_, err := repo.Create(ctx, newUser("Alice"))
	if !storex.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}

	n, _ := repo.Count(ctx)
	if n != 1 {
		t.Fatalf("expected 1 user, got %d", n)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	repo := userinfra.NewMemoryRepository()
	u := newUser("bob")
	u.Identities = user.Identities{"github": "42"}
	if _, err := repo.Create(ctx, u); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, _ := repo.Get(ctx, u.ID)
	got.Identities["github"] = "tampered"

	again, _ := repo.Get(ctx, u.ID)
	if again.Identities["github"] != "42" {
		t.Fatal("stored user was mutated through a returned value")
	}
}

func TestMemoryUpdateRenameMovesIndex(t *testing.T) {
	ctx := context.Background()
	repo := userinfra.NewMemoryRepository()
	a, b := newUser("carol"), newUser("dave")
	repo.Create(ctx, a)
	repo.Create(ctx, b)

	if _, err := repo.Update(ctx, b.ID, user.Patch{Username: ptrx.String("CAROL")}); !storex.IsConflict(err) {
		t.Fatalf("expected conflict on rename, got %v", err)
	}

	if _, err := repo.Update(ctx, a.ID, user.Patch{Username: ptrx.String("caroline")}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := repo.FindByUsername(ctx, "carol"); !storex.IsNotFound(err) {
		t.Fatalf("old name should be free, got %v", err)
	}
	if _, err := repo.Create(ctx, newUser("carol")); err != nil {
		t.Fatalf("expected old name reusable, got %v", err)
	}
}

func TestMemoryFindByIdentityAndEmail(t *testing.T) {
	ctx := context.Background()
	repo := userinfra.NewMemoryRepository()
	u := newUser("erin")
	u.Email = "erin@example.com"
	repo.Create(ctx, u)

	if _, err := repo.Update(ctx, u.ID, user.Patch{Link: &user.Identity{Provider: "google", Subject: "g-1"}}); err != nil {
		t.Fatalf("link: %v", err)
	}

	got, err := repo.FindByIdentity(ctx, "google", "g-1")
	if err != nil || got.ID != u.ID {
		t.Fatalf("find by identity: %v %v", got, err)
	}
	got, err = repo.FindByEmail(ctx, "erin@example.com")
	if err != nil || got.ID != u.ID {
		t.Fatalf("find by email: %v %v", got, err)
	}
	if _, err := repo.FindByEmail(ctx, ""); !storex.IsNotFound(err) {
		t.Fatalf("empty email must not match, got %v", err)
	}
}

func TestMemoryIdentityBelongsToOneUser(t *testing.T) {
	ctx := context.Background()
	repo := userinfra.NewMemoryRepository()
	first, second := newUser("frank"), newUser("grace")
	first.Identities = user.Identities{"github": "42"}
	second.Identities = user.Identities{"github": "42"}

	if _, err := repo.Create(ctx, first); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := repo.Create(ctx, second); !storex.IsConflict(err) {
		t.Fatalf("expected conflict on shared identity, got %v", err)
	}

	second.Identities = nil
	if _, err := repo.Create(ctx, second); err != nil {
		t.Fatalf("create without identity: %v", err)
	}
	link := user.Patch{Link: &user.Identity{Provider: "github", Subject: "42"}}
	if _, err := repo.Update(ctx, second.ID, link); !storex.IsConflict(err) {
		t.Fatalf("expected conflict on link, got %v", err)
	}
	if _, err := repo.Update(ctx, first.ID, link); err != nil {
		t.Fatalf("relinking own identity: %v", err)
	}

	if err := repo.Delete(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := repo.Update(ctx, second.ID, link); err != nil {
		t.Fatalf("identity should be free after delete, got %v", err)
	}
	got, err := repo.FindByIdentity(ctx, "github", "42")
	if err != nil || got.ID != second.ID {
		t.Fatalf("find by identity: %v %v", got, err)
	}
}

func TestMemoryDelete(t *testing.T) {
	ctx := context.Background()
	repo := userinfra.NewMemoryRepository()
	u := newUser("frank")
	repo.Create(ctx, u)

	if err := repo.Delete(ctx, u.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(ctx, u.ID); !storex.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if ok, _ := repo.Exists(ctx, u.ID); ok {
		t.Fatal("expected user gone")
	}
}
