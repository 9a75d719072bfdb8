package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YixiaoOneSmile/QMChatStudio/internal/constant"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/dto"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/entity"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/contract"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/memory"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/specification"
	"github.com/YixiaoOneSmile/QMChatStudio/internal/repository/unitofwork"
)

// In-memory repositories interpreting the same specifications the GORM
// implementations apply, so the service logic can be tested without a DB.

type memConvRepo struct {
	rows map[string]*entity.Conversation
	// touch count per conversation, to assert the recency bump pairing
	touched map[string]int
}

func (r *memConvRepo) Create(ctx context.Context, c *entity.Conversation) error {
	if _, ok := r.rows[c.Id]; ok {
		return gorm.ErrDuplicatedKey
	}
	cp := *c
	r.rows[c.Id] = &cp
	return nil
}

func (r *memConvRepo) Update(ctx context.Context, c *entity.Conversation) error {
	cp := *c
	r.rows[c.Id] = &cp
	return nil
}

func (r *memConvRepo) Touch(ctx context.Context, id string, at time.Time) error {
	row, ok := r.rows[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	row.UpdatedAt = at
	r.touched[id]++
	return nil
}

func (r *memConvRepo) Delete(ctx context.Context, id string) error {
	delete(r.rows, id)
	return nil
}

func (r *memConvRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Conversation, error) {
	matches, err := r.FindAll(ctx, specs...)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

func (r *memConvRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Conversation, error) {
	var out []*entity.Conversation
	for _, row := range r.rows {
		if convMatches(row, specs) {
			cp := *row
			out = append(out, &cp)
		}
	}
	applyConvOrder(out, specs)
	return out, nil
}

func (r *memConvRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	matches, _ := r.FindAll(ctx, specs...)
	return int64(len(matches)), nil
}

func convMatches(c *entity.Conversation, specs []specification.Specification) bool {
	for _, s := range specs {
		switch sp := s.(type) {
		case specification.ByID:
			if c.Id != sp.ID {
				return false
			}
		case specification.UserOwnedBy:
			if c.UserId != sp.UserID {
				return false
			}
		}
	}
	return true
}

func applyConvOrder(rows []*entity.Conversation, specs []specification.Specification) {
	for _, s := range specs {
		if sp, ok := s.(specification.OrderBy); ok && sp.Field == "updated_at" {
			for i := 0; i < len(rows); i++ {
				for j := i + 1; j < len(rows); j++ {
					before := rows[i].UpdatedAt.Before(rows[j].UpdatedAt)
					if (sp.Desc && before) || (!sp.Desc && !before) {
						rows[i], rows[j] = rows[j], rows[i]
					}
				}
			}
		}
	}
}

type memMsgRepo struct {
	rows []*entity.Message
}

func (r *memMsgRepo) Create(ctx context.Context, m *entity.Message) error {
	for _, row := range r.rows {
		if row.Id == m.Id {
			return gorm.ErrDuplicatedKey
		}
	}
	cp := *m
	r.rows = append(r.rows, &cp)
	return nil
}

func (r *memMsgRepo) Update(ctx context.Context, m *entity.Message) error {
	for i, row := range r.rows {
		if row.Id == m.Id {
			cp := *m
			r.rows[i] = &cp
			return nil
		}
	}
	return nil
}

func (r *memMsgRepo) Delete(ctx context.Context, id string) error {
	out := r.rows[:0]
	for _, row := range r.rows {
		if row.Id != id {
			out = append(out, row)
		}
	}
	r.rows = out
	return nil
}

func (r *memMsgRepo) DeleteByConversationId(ctx context.Context, conversationId string) error {
	out := r.rows[:0]
	for _, row := range r.rows {
		if row.ConversationId != conversationId {
			out = append(out, row)
		}
	}
	r.rows = out
	return nil
}

func (r *memMsgRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.Message, error) {
	matches, err := r.FindAll(ctx, specs...)
	if err != nil || len(matches) == 0 {
		return nil, err
	}
	return matches[0], nil
}

func (r *memMsgRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.Message, error) {
	var out []*entity.Message
	for _, row := range r.rows {
		if msgMatches(row, specs) {
			cp := *row
			out = append(out, &cp)
		}
	}

	for _, s := range specs {
		if sp, ok := s.(specification.OrderBy); ok && sp.Field == "created_at" && sp.Desc {
			for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	for _, s := range specs {
		if sp, ok := s.(specification.Limit); ok && len(out) > sp.N {
			out = out[:sp.N]
		}
	}
	return out, nil
}

func (r *memMsgRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	matches, _ := r.FindAll(ctx, specs...)
	return int64(len(matches)), nil
}

func msgMatches(m *entity.Message, specs []specification.Specification) bool {
	for _, s := range specs {
		switch sp := s.(type) {
		case specification.ByID:
			if m.Id != sp.ID {
				return false
			}
		case specification.ByConversationID:
			if m.ConversationId != sp.ConversationID {
				return false
			}
		}
	}
	return true
}

type memUserRepo struct{}

func (memUserRepo) Create(ctx context.Context, u *entity.User) error { return nil }
func (memUserRepo) Update(ctx context.Context, u *entity.User) error { return nil }
func (memUserRepo) Delete(ctx context.Context, id uuid.UUID) error   { return nil }
func (memUserRepo) FindOne(ctx context.Context, specs ...specification.Specification) (*entity.User, error) {
	return nil, nil
}
func (memUserRepo) FindAll(ctx context.Context, specs ...specification.Specification) ([]*entity.User, error) {
	return nil, nil
}
func (memUserRepo) Count(ctx context.Context, specs ...specification.Specification) (int64, error) {
	return 0, nil
}

type memUow struct {
	conv *memConvRepo
	msg  *memMsgRepo
}

func (u *memUow) Begin(ctx context.Context) error { return nil }
func (u *memUow) Commit() error                   { return nil }
func (u *memUow) Rollback() error                 { return nil }
func (u *memUow) UserRepository() contract.UserRepository {
	return memUserRepo{}
}
func (u *memUow) ConversationRepository() contract.ConversationRepository {
	return u.conv
}
func (u *memUow) MessageRepository() contract.MessageRepository {
	return u.msg
}

type memFactory struct {
	uow *memUow
}

func (f *memFactory) NewUnitOfWork(ctx context.Context) unitofwork.UnitOfWork {
	return f.uow
}

func newMemService() (*memConvRepo, *memMsgRepo, IConversationService) {
	conv := &memConvRepo{rows: map[string]*entity.Conversation{}, touched: map[string]int{}}
	msg := &memMsgRepo{}
	factory := &memFactory{uow: &memUow{conv: conv, msg: msg}}
	svc := NewConversationService(factory, memory.NewListingCache(), testLogger{})
	return conv, msg, svc
}

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "short stays verbatim", in: "Hi", want: "Hi"},
		{name: "exactly at limit", in: strings.Repeat("a", 20), want: strings.Repeat("a", 20)},
		{name: "over limit gets suffix", in: strings.Repeat("a", 25), want: strings.Repeat("a", 20) + "..."},
		{name: "multibyte counted as runes", in: strings.Repeat("你", 25), want: strings.Repeat("你", 20) + "..."},
		{name: "empty", in: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TruncateTitle(tt.in))
		})
	}
}

func TestCreateConversationConflict(t *testing.T) {
	_, _, svc := newMemService()
	userId := uuid.New()

	_, err := svc.CreateConversation(context.Background(), userId, &dto.CreateConversationRequest{Id: "conv_1", Title: "one"})
	require.NoError(t, err)

	_, err = svc.CreateConversation(context.Background(), userId, &dto.CreateConversationRequest{Id: "conv_1", Title: "again"})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestResolveOrCreateIsIdempotent(t *testing.T) {
	conv, _, svc := newMemService()
	userId := uuid.New()

	first, created, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "hello there")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "different seed")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Title, second.Title)
	assert.Len(t, conv.rows, 1)
}

func TestResolveOrCreateForbiddenForOtherOwner(t *testing.T) {
	conv, _, svc := newMemService()
	owner := uuid.New()
	conv.rows["conv_1"] = &entity.Conversation{Id: "conv_1", UserId: owner}

	_, _, err := svc.ResolveOrCreate(context.Background(), uuid.New(), "conv_1", "seed")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestAppendMessageBumpsConversation(t *testing.T) {
	conv, msg, svc := newMemService()
	userId := uuid.New()

	_, _, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "seed")
	require.NoError(t, err)

	err = svc.AppendMessage(context.Background(), &entity.Message{
		Id:             "m1",
		ConversationId: "conv_1",
		Chat:           "hello",
		Role:           constant.MessageRoleUser,
		Status:         constant.MessageStatusComplete,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)

	assert.Len(t, msg.rows, 1)
	assert.Equal(t, 1, conv.touched["conv_1"])
}

func TestFinalizeMessageRejectsStatusRegression(t *testing.T) {
	conv, _, svc := newMemService()
	userId := uuid.New()

	_, _, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "seed")
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(context.Background(), &entity.Message{
		Id:             "m1",
		ConversationId: "conv_1",
		Role:           constant.MessageRoleAssistant,
		Status:         constant.MessageStatusStreaming,
		CreatedAt:      time.Now(),
	}))

	require.NoError(t, svc.FinalizeMessage(context.Background(), "m1", "done", constant.MessageStatusComplete))
	assert.Equal(t, 2, conv.touched["conv_1"])

	err = svc.FinalizeMessage(context.Background(), "m1", "rewind", constant.MessageStatusStreaming)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestFinalizeMessageNotFound(t *testing.T) {
	_, _, svc := newMemService()
	err := svc.FinalizeMessage(context.Background(), "missing", "x", constant.MessageStatusComplete)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetRecentMessagesReturnsTailInOrder(t *testing.T) {
	_, msg, svc := newMemService()

	base := time.Now()
	for i := 0; i < 15; i++ {
		msg.rows = append(msg.rows, &entity.Message{
			Id:             "m" + string(rune('a'+i)),
			ConversationId: "conv_1",
			Chat:           "msg",
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}

	got, err := svc.GetRecentMessages(context.Background(), "conv_1", 10)
	require.NoError(t, err)
	require.Len(t, got, 10)

	// Chronological order, oldest of the window first.
	assert.Equal(t, msg.rows[5].Id, got[0].Id)
	assert.Equal(t, msg.rows[14].Id, got[9].Id)
	for i := 1; i < len(got); i++ {
		assert.True(t, !got[i].CreatedAt.Before(got[i-1].CreatedAt))
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	conv, msg, svc := newMemService()
	userId := uuid.New()

	_, _, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "seed")
	require.NoError(t, err)
	require.NoError(t, svc.AppendMessage(context.Background(), &entity.Message{Id: "m1", ConversationId: "conv_1"}))
	require.NoError(t, svc.AppendMessage(context.Background(), &entity.Message{Id: "m2", ConversationId: "conv_1"}))

	require.NoError(t, svc.DeleteConversation(context.Background(), userId, "conv_1"))

	assert.Empty(t, conv.rows)
	assert.Empty(t, msg.rows)
}

func TestDeleteConversationNotFoundAndForbidden(t *testing.T) {
	conv, _, svc := newMemService()
	owner := uuid.New()
	conv.rows["conv_1"] = &entity.Conversation{Id: "conv_1", UserId: owner}

	err := svc.DeleteConversation(context.Background(), uuid.New(), "conv_1")
	assert.ErrorIs(t, err, ErrForbidden)

	err = svc.DeleteConversation(context.Background(), owner, "conv_missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsOrderedByRecency(t *testing.T) {
	conv, _, svc := newMemService()
	userId := uuid.New()

	base := time.Now()
	conv.rows["old"] = &entity.Conversation{Id: "old", UserId: userId, UpdatedAt: base.Add(-time.Hour)}
	conv.rows["new"] = &entity.Conversation{Id: "new", UserId: userId, UpdatedAt: base}
	conv.rows["other"] = &entity.Conversation{Id: "other", UserId: uuid.New(), UpdatedAt: base}

	got, err := svc.ListConversations(context.Background(), userId)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "new", got[0].Id)
	assert.Equal(t, "old", got[1].Id)
}

func TestAppendMessageForUserDefaultsAndConflict(t *testing.T) {
	conv, _, svc := newMemService()
	userId := uuid.New()

	_, _, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "seed")
	require.NoError(t, err)

	res, err := svc.AppendMessageForUser(context.Background(), userId, "conv_1", &dto.AppendMessageRequest{
		Id:   "m1",
		Chat: "hello",
		Role: constant.MessageRoleUser,
	})
	require.NoError(t, err)
	assert.Equal(t, constant.MessageStatusComplete, res.Status)
	assert.Equal(t, 1, conv.touched["conv_1"])

	_, err = svc.AppendMessageForUser(context.Background(), userId, "conv_1", &dto.AppendMessageRequest{
		Id:   "m1",
		Chat: "again",
		Role: constant.MessageRoleUser,
	})
	assert.ErrorIs(t, err, ErrConflict)
}

func TestAppendMessageForUserOwnership(t *testing.T) {
	conv, _, svc := newMemService()
	owner := uuid.New()
	conv.rows["conv_1"] = &entity.Conversation{Id: "conv_1", UserId: owner}

	_, err := svc.AppendMessageForUser(context.Background(), uuid.New(), "conv_1", &dto.AppendMessageRequest{
		Chat: "hi",
		Role: constant.MessageRoleUser,
	})
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = svc.AppendMessageForUser(context.Background(), owner, "conv_missing", &dto.AppendMessageRequest{
		Chat: "hi",
		Role: constant.MessageRoleUser,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPatchMessageStatusMonotonic(t *testing.T) {
	conv, _, svc := newMemService()
	userId := uuid.New()

	_, _, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "seed")
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(context.Background(), &entity.Message{
		Id:             "m1",
		ConversationId: "conv_1",
		Role:           constant.MessageRoleAssistant,
		Status:         constant.MessageStatusStreaming,
		CreatedAt:      time.Now(),
	}))

	require.NoError(t, svc.PatchMessageStatus(context.Background(), userId, "conv_1", "m1", constant.MessageStatusComplete))
	assert.Equal(t, 2, conv.touched["conv_1"])

	err = svc.PatchMessageStatus(context.Background(), userId, "conv_1", "m1", constant.MessageStatusStreaming)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestPatchMessageStatusWrongConversation(t *testing.T) {
	_, _, svc := newMemService()
	userId := uuid.New()

	_, _, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "seed")
	require.NoError(t, err)
	_, _, err = svc.ResolveOrCreate(context.Background(), userId, "conv_2", "seed")
	require.NoError(t, err)

	require.NoError(t, svc.AppendMessage(context.Background(), &entity.Message{
		Id:             "m1",
		ConversationId: "conv_1",
		Role:           constant.MessageRoleUser,
		Status:         constant.MessageStatusComplete,
		CreatedAt:      time.Now(),
	}))

	err = svc.PatchMessageStatus(context.Background(), userId, "conv_2", "m1", constant.MessageStatusComplete)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListConversationsFreshAfterTurnMutations(t *testing.T) {
	conv, _, svc := newMemService()
	userId := uuid.New()

	base := time.Now()
	conv.rows["conv_a"] = &entity.Conversation{Id: "conv_a", UserId: userId, UpdatedAt: base.Add(-2 * time.Hour)}
	conv.rows["conv_b"] = &entity.Conversation{Id: "conv_b", UserId: userId, UpdatedAt: base.Add(-time.Hour)}

	first, err := svc.ListConversations(context.Background(), userId)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "conv_b", first[0].Id)

	// Appending bumps conv_a past conv_b; the cached listing must not
	// survive the mutation.
	require.NoError(t, svc.AppendMessage(context.Background(), &entity.Message{
		Id:             "m_a",
		ConversationId: "conv_a",
		Role:           constant.MessageRoleUser,
		Status:         constant.MessageStatusComplete,
		CreatedAt:      time.Now(),
	}))

	second, err := svc.ListConversations(context.Background(), userId)
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, "conv_a", second[0].Id)

	// Same for finalization: a streaming turn ending on conv_b must
	// reorder the next listing.
	require.NoError(t, svc.AppendMessage(context.Background(), &entity.Message{
		Id:             "m_b",
		ConversationId: "conv_b",
		Role:           constant.MessageRoleAssistant,
		Status:         constant.MessageStatusStreaming,
		CreatedAt:      time.Now(),
	}))
	third, err := svc.ListConversations(context.Background(), userId)
	require.NoError(t, err)
	assert.Equal(t, "conv_b", third[0].Id)

	require.NoError(t, svc.FinalizeMessage(context.Background(), "m_a", "done", constant.MessageStatusComplete))
	fourth, err := svc.ListConversations(context.Background(), userId)
	require.NoError(t, err)
	assert.Equal(t, "conv_a", fourth[0].Id)
}

func TestAppendMessageMissingConversation(t *testing.T) {
	_, msg, svc := newMemService()

	err := svc.AppendMessage(context.Background(), &entity.Message{
		Id:             "m1",
		ConversationId: "conv_missing",
		Role:           constant.MessageRoleUser,
		Status:         constant.MessageStatusComplete,
		CreatedAt:      time.Now(),
	})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, msg.rows)
}

func TestAppendMessageDuplicateIdConflict(t *testing.T) {
	_, _, svc := newMemService()
	userId := uuid.New()

	_, _, err := svc.ResolveOrCreate(context.Background(), userId, "conv_1", "seed")
	require.NoError(t, err)

	row := &entity.Message{
		Id:             "m1",
		ConversationId: "conv_1",
		Role:           constant.MessageRoleUser,
		Status:         constant.MessageStatusComplete,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, svc.AppendMessage(context.Background(), row))

	err = svc.AppendMessage(context.Background(), row)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestTranslateWriteError(t *testing.T) {
	assert.ErrorIs(t, translateWriteError(gorm.ErrDuplicatedKey), ErrConflict)
	assert.ErrorIs(t, translateWriteError(errors.New("connection refused")), ErrStorage)
}
