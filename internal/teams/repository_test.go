package teams

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackportal/backend/internal/models"
)

func TestRepositoryMarkPaidReportsChange(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE teams SET payment_status").
		WithArgs(models.TeamPaymentPaid, models.TeamStatusApproved, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE teams SET payment_status").
		WithArgs(models.TeamPaymentPaid, models.TeamStatusApproved, id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	repo := NewRepository(mock)
	changed, err := repo.MarkPaid(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkPaid(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryMarkFailedGuardsPaidTeams(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id := uuid.New()
	mock.ExpectExec(`payment_status NOT IN`).
		WithArgs(models.TeamPaymentFailed, models.TeamStatusPending, id, models.TeamPaymentPaid).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	changed, err := NewRepository(mock).MarkFailed(context.Background(), id)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepositoryGetByID(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	id, eventID, leaderID := uuid.New(), uuid.New(), uuid.New()
	now := time.Now()
	mock.ExpectQuery("FROM teams WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "leader_id", "name", "status", "payment_status", "created_at", "updated_at"}).
			AddRow(id, eventID, leaderID, "Null Pointers", models.TeamStatusSubmitted, models.TeamPaymentPending, now, now))
	mock.ExpectQuery("FROM teams WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id", "event_id", "leader_id", "name", "status", "payment_status", "created_at", "updated_at"}))

	repo := NewRepository(mock)
	team, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, team)
	assert.Equal(t, leaderID, team.LeaderID)
	assert.Equal(t, models.TeamPaymentPending, team.PaymentStatus)

	team, err = repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, team)
	assert.NoError(t, mock.ExpectationsWereMet())
}
