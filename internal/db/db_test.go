package db

import (
	"path/filepath"
	"sync"
	"testing"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	database, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func createTestUser(t *testing.T, database *DB, first, last, email string) int64 {
	t.Helper()
	user, err := database.CreateUser(first, last, email, "hash", false)
	if err != nil {
		t.Fatalf("failed to create user %s: %v", email, err)
	}
	return user.ID
}

func TestCreateAndGetUser(t *testing.T) {
	database := newTestDB(t)

	user, err := database.CreateUser("Alice", "Archer", "alice@example.com", "hash", false)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if user.ID == 0 || !user.IsActive || user.IsAdmin {
		t.Errorf("unexpected user: %+v", user)
	}

	byEmail, err := database.GetUserByEmail("alice@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail failed: %v", err)
	}
	if byEmail.ID != user.ID || byEmail.FirstName != "Alice" || byEmail.Password != "hash" {
		t.Errorf("unexpected user by email: %+v", byEmail)
	}

	byID, err := database.GetUserByID(user.ID)
	if err != nil {
		t.Fatalf("GetUserByID failed: %v", err)
	}
	if byID.Email != "alice@example.com" {
		t.Errorf("unexpected user by id: %+v", byID)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	database := newTestDB(t)

	createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	if _, err := database.CreateUser("Another", "Alice", "alice@example.com", "hash", false); err == nil {
		t.Error("expected duplicate email to be rejected")
	}
}

func TestEnsureAdminIsIdempotent(t *testing.T) {
	database := newTestDB(t)

	if err := database.EnsureAdmin("Admin", "Root", "admin@local.dev", "hash"); err != nil {
		t.Fatalf("EnsureAdmin failed: %v", err)
	}
	if err := database.EnsureAdmin("Admin", "Root", "admin2@local.dev", "hash"); err != nil {
		t.Fatalf("second EnsureAdmin failed: %v", err)
	}

	users, err := database.ListUsers(0)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(users) != 1 || !users[0].IsAdmin {
		t.Errorf("expected exactly one admin user, got %+v", users)
	}
}

func TestSettings(t *testing.T) {
	database := newTestDB(t)

	open, err := database.RegistrationOpen()
	if err != nil || !open {
		t.Fatalf("registration should default to open, got %v, %v", open, err)
	}

	if err := database.SetSetting("registration_open", "false"); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}
	open, err = database.RegistrationOpen()
	if err != nil || open {
		t.Errorf("registration should be closed, got %v, %v", open, err)
	}
}

func TestCreateDirectConversation(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	bob := createTestUser(t, database, "Bob", "Baker", "bob@example.com")

	conv, err := database.CreateDirectConversation(alice, bob)
	if err != nil {
		t.Fatalf("CreateDirectConversation failed: %v", err)
	}
	if conv.IsGroup {
		t.Error("direct conversation must not be a group")
	}

	members, err := database.ConversationMemberIDs(conv.ID)
	if err != nil {
		t.Fatalf("ConversationMemberIDs failed: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(members))
	}

	// Same pair in either order resolves to the same conversation.
	again, err := database.CreateDirectConversation(bob, alice)
	if err != nil {
		t.Fatalf("second CreateDirectConversation failed: %v", err)
	}
	if again.ID != conv.ID {
		t.Errorf("expected the existing conversation %d, got %d", conv.ID, again.ID)
	}
}

func TestConcurrentDirectConversationCreation(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	bob := createTestUser(t, database, "Bob", "Baker", "bob@example.com")

	const attempts = 8
	ids := make([]int64, attempts)
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			conv, err := database.CreateDirectConversation(alice, bob)
			if err != nil {
				errs[i] = err
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	var winner int64
	for i := 0; i < attempts; i++ {
		if errs[i] != nil {
			t.Fatalf("attempt %d failed: %v", i, errs[i])
		}
		if winner == 0 {
			winner = ids[i]
		}
		if ids[i] != winner {
			t.Fatalf("concurrent creation produced distinct conversations: %v", ids)
		}
	}
}

func TestCreateGroupConversation(t *testing.T) {
	database := newTestDB(t)
	admin := createTestUser(t, database, "Admin", "Root", "admin@example.com")
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	bob := createTestUser(t, database, "Bob", "Baker", "bob@example.com")

	// Creator listed twice; the membership insert must tolerate it.
	conv, err := database.CreateGroupConversation("Team", admin, []int64{alice, bob, admin})
	if err != nil {
		t.Fatalf("CreateGroupConversation failed: %v", err)
	}
	if !conv.IsGroup || conv.Name != "Team" {
		t.Errorf("unexpected conversation: %+v", conv)
	}

	members, err := database.ConversationMemberIDs(conv.ID)
	if err != nil {
		t.Fatalf("ConversationMemberIDs failed: %v", err)
	}
	if len(members) != 3 {
		t.Errorf("expected 3 members, got %v", members)
	}

	for _, id := range []int64{admin, alice, bob} {
		member, err := database.IsConversationMember(conv.ID, id)
		if err != nil || !member {
			t.Errorf("user %d should be a member: %v, %v", id, member, err)
		}
	}
}

func TestIsConversationMember(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	bob := createTestUser(t, database, "Bob", "Baker", "bob@example.com")
	carol := createTestUser(t, database, "Carol", "Cole", "carol@example.com")

	conv, err := database.CreateDirectConversation(alice, bob)
	if err != nil {
		t.Fatalf("CreateDirectConversation failed: %v", err)
	}

	member, err := database.IsConversationMember(conv.ID, carol)
	if err != nil {
		t.Fatalf("IsConversationMember failed: %v", err)
	}
	if member {
		t.Error("carol must not be a member")
	}
}

func TestSaveAndFetchMessages(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	bob := createTestUser(t, database, "Bob", "Baker", "bob@example.com")

	conv, err := database.CreateDirectConversation(alice, bob)
	if err != nil {
		t.Fatalf("CreateDirectConversation failed: %v", err)
	}

	first, err := database.SaveMessage(conv.ID, alice, "hello", nil)
	if err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}
	if first.ID == 0 || first.CreatedAt.IsZero() {
		t.Errorf("expected store-assigned id and timestamp, got %+v", first)
	}

	second, err := database.SaveMessage(conv.ID, bob, "hi back", &first.ID)
	if err != nil {
		t.Fatalf("SaveMessage reply failed: %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("ids must be monotonic: %d then %d", first.ID, second.ID)
	}

	history, err := database.ConversationMessages(conv.ID)
	if err != nil {
		t.Fatalf("ConversationMessages failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(history))
	}
	if history[0].Body != "hello" || history[0].FirstName != "Alice" {
		t.Errorf("unexpected first message: %+v", history[0])
	}
	reply := history[1]
	if reply.ReplyToID == nil || *reply.ReplyToID != first.ID {
		t.Errorf("expected reply_to_id %d, got %v", first.ID, reply.ReplyToID)
	}
	if reply.ReplyBody == nil || *reply.ReplyBody != "hello" {
		t.Errorf("expected joined reply body, got %v", reply.ReplyBody)
	}
}

func TestClearChatData(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	bob := createTestUser(t, database, "Bob", "Baker", "bob@example.com")

	conv, err := database.CreateDirectConversation(alice, bob)
	if err != nil {
		t.Fatalf("CreateDirectConversation failed: %v", err)
	}
	if _, err := database.SaveMessage(conv.ID, alice, "hello", nil); err != nil {
		t.Fatalf("SaveMessage failed: %v", err)
	}

	if err := database.ClearChatData(); err != nil {
		t.Fatalf("ClearChatData failed: %v", err)
	}

	conversations, err := database.UserConversations(alice)
	if err != nil {
		t.Fatalf("UserConversations failed: %v", err)
	}
	if len(conversations) != 0 {
		t.Errorf("expected no conversations, got %d", len(conversations))
	}

	// Users survive the wipe.
	if _, err := database.GetUserByID(alice); err != nil {
		t.Errorf("users must survive ClearChatData: %v", err)
	}
}

func TestUpdateAndDeleteUser(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")

	updated, err := database.UpdateUser(alice, "Alicia", "Archer", true, false)
	if err != nil {
		t.Fatalf("UpdateUser failed: %v", err)
	}
	if updated.FirstName != "Alicia" || !updated.IsAdmin || updated.IsActive {
		t.Errorf("unexpected updated user: %+v", updated)
	}

	if err := database.DeleteUser(alice); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if _, err := database.GetUserByID(alice); err == nil {
		t.Error("expected deleted user to be gone")
	}
}

func TestListUsersExcludes(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	createTestUser(t, database, "Bob", "Baker", "bob@example.com")

	all, err := database.ListUsers(0)
	if err != nil {
		t.Fatalf("ListUsers failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 users, got %d", len(all))
	}

	others, err := database.ListUsers(alice)
	if err != nil {
		t.Fatalf("ListUsers with exclusion failed: %v", err)
	}
	if len(others) != 1 || others[0].Email != "bob@example.com" {
		t.Errorf("expected only bob, got %+v", others)
	}
}

func TestUserConversationsOnlyOwn(t *testing.T) {
	database := newTestDB(t)
	alice := createTestUser(t, database, "Alice", "Archer", "alice@example.com")
	bob := createTestUser(t, database, "Bob", "Baker", "bob@example.com")
	carol := createTestUser(t, database, "Carol", "Cole", "carol@example.com")

	if _, err := database.CreateDirectConversation(alice, bob); err != nil {
		t.Fatalf("CreateDirectConversation failed: %v", err)
	}
	if _, err := database.CreateDirectConversation(bob, carol); err != nil {
		t.Fatalf("CreateDirectConversation failed: %v", err)
	}

	aliceConvs, err := database.UserConversations(alice)
	if err != nil {
		t.Fatalf("UserConversations failed: %v", err)
	}
	if len(aliceConvs) != 1 {
		t.Errorf("expected 1 conversation for alice, got %d", len(aliceConvs))
	}

	bobConvs, err := database.UserConversations(bob)
	if err != nil {
		t.Fatalf("UserConversations failed: %v", err)
	}
	if len(bobConvs) != 2 {
		t.Errorf("expected 2 conversations for bob, got %d", len(bobConvs))
	}
}
