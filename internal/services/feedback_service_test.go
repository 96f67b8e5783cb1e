package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/theoneapp/theone-backend/internal/dto"
	"github.com/theoneapp/theone-backend/internal/models"
)

func TestCreateFeedback(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db)
	svc := NewFeedbackService(db)

	feedback, err := svc.Create(user.ID, &dto.CreateFeedbackRequest{
		Type:    "bug",
		Content: "restore button does nothing on the paywall screen",
		Contact: "user@example.com",
	})
	require.NoError(t, err)

	assert.Equal(t, models.FeedbackBug, feedback.Type)
	assert.Equal(t, "open", feedback.Status)
}

func TestCreateFeedbackDefaultsToSuggestion(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db)
	svc := NewFeedbackService(db)

	feedback, err := svc.Create(user.ID, &dto.CreateFeedbackRequest{
		Content: "please add a dark theme",
	})
	require.NoError(t, err)
	assert.Equal(t, models.FeedbackSuggestion, feedback.Type)
}

func TestCreateFeedbackScreensSpam(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db)
	svc := NewFeedbackService(db)

	_, err := svc.Create(user.ID, &dto.CreateFeedbackRequest{
		Content: "Best CASINO bonuses here!!!",
	})
	assert.Error(t, err)

	items, err := svc.ListByUser(user.ID)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUpdateFeedback(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db)
	svc := NewFeedbackService(db)

	feedback, err := svc.Create(user.ID, &dto.CreateFeedbackRequest{Content: "something broke"})
	require.NoError(t, err)

	updated, err := svc.Update(feedback.ID, &dto.UpdateFeedbackRequest{
		Status:    "resolved",
		AdminNote: "fixed in 1.4.2",
	})
	require.NoError(t, err)
	assert.Equal(t, "resolved", updated.Status)
	assert.Equal(t, "fixed in 1.4.2", updated.AdminNote)

	_, err = svc.Update(uuid.New(), &dto.UpdateFeedbackRequest{Status: "closed"})
	assert.ErrorIs(t, err, ErrFeedbackNotFound)
}

func TestListAllFiltersByStatus(t *testing.T) {
	db := newTestDB(t)
	user := createTestUser(t, db)
	svc := NewFeedbackService(db)

	first, err := svc.Create(user.ID, &dto.CreateFeedbackRequest{Content: "a"})
	require.NoError(t, err)
	_, err = svc.Create(user.ID, &dto.CreateFeedbackRequest{Content: "b"})
	require.NoError(t, err)

	_, err = svc.Update(first.ID, &dto.UpdateFeedbackRequest{Status: "closed"})
	require.NoError(t, err)

	open, err := svc.ListAll("open", 0)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	all, err := svc.ListAll("", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
