package services

import (
	"context"
	"testing"

	"charitylending/database"
	"charitylending/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignmentDirectory_AssignAndUnassign(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	record, err := env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{StaffID: env.staff.ID, ProspectID: env.applicant.ID, Notes: " estate planning "})
	require.NoError(t, err)
	assert.True(t, record.Active)
	assert.False(t, record.Primary)
	assert.Equal(t, env.admin.ID, record.AssignedBy)
	assert.Equal(t, testNow, record.AssignedAt)
	assert.Equal(t, "estate planning", record.Notes)

	again, err := env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{StaffID: env.staff.ID, ProspectID: env.applicant.ID})
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID, "active pair is reused")

	assigned, err := env.directory.IsAssigned(ctx, env.staff.ID, env.applicant.ID)
	require.NoError(t, err)
	assert.True(t, assigned)

	removed, err := env.directory.Unassign(ctx, env.admin, record.ID)
	require.NoError(t, err)
	assert.False(t, removed.Active)
	require.NotNil(t, removed.UnassignedAt)

	_, err = env.directory.Unassign(ctx, env.admin, record.ID)
	assert.ErrorIs(t, err, ErrValidation)

	assigned, err = env.directory.IsAssigned(ctx, env.staff.ID, env.applicant.ID)
	require.NoError(t, err)
	assert.False(t, assigned)

	history, err := env.store.ListAssignments(ctx, database.AssignmentFilter{ProspectID: uintPtr(env.applicant.ID)})
	require.NoError(t, err)
	assert.Len(t, history, 1, "records are deactivated, not deleted")
}

func TestAssignmentDirectory_SinglePrimary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	other := &models.User{FirstName: "Kim", LastName: "Staff", Email: "kim@example.org", Role: models.RoleStaff}
	require.NoError(t, env.store.CreateUser(ctx, other))

	first, err := env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{StaffID: env.staff.ID, ProspectID: env.applicant.ID, Primary: true})
	require.NoError(t, err)
	second, err := env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{StaffID: other.ID, ProspectID: env.applicant.ID, Primary: true})
	require.NoError(t, err)

	primaries := func() []uint {
		records, err := env.directory.ForProspect(ctx, env.applicant.ID)
		require.NoError(t, err)
		var ids []uint
		for _, r := range records {
			if r.Primary {
				ids = append(ids, r.ID)
			}
		}
		return ids
	}
	assert.Equal(t, []uint{second.ID}, primaries())

	_, err = env.directory.SetPrimary(ctx, env.admin, first.ID)
	require.NoError(t, err)
	assert.Equal(t, []uint{first.ID}, primaries())

	byStaff, err := env.directory.ForStaff(ctx, other.ID)
	require.NoError(t, err)
	require.Len(t, byStaff, 1)
	assert.False(t, byStaff[0].Primary)
}

func TestAssignmentDirectory_Guards(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.directory.AssignStaff(ctx, env.staff, AssignStaffDTO{StaffID: env.staff.ID, ProspectID: env.applicant.ID})
	assert.ErrorIs(t, err, ErrAuthorization)

	_, err = env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{StaffID: env.applicant.ID, ProspectID: env.applicant.ID})
	assert.ErrorIs(t, err, ErrValidation, "applicants cannot be assigned as staff")

	_, err = env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{StaffID: env.staff.ID, ProspectID: 999})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{ProspectID: env.applicant.ID})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = env.directory.SetPrimary(ctx, env.admin, 999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignmentDirectory_GrantsEditRights(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	app := env.seedStatus(t, models.ApplicationStatusSubmitted)

	_, err := env.apps.StartReview(ctx, env.staff, app.ID, "")
	require.ErrorIs(t, err, ErrAuthorization)

	record, err := env.directory.AssignStaff(ctx, env.admin, AssignStaffDTO{StaffID: env.staff.ID, ProspectID: env.applicant.ID})
	require.NoError(t, err)
	_, err = env.apps.StartReview(ctx, env.staff, app.ID, "")
	require.NoError(t, err)

	_, err = env.directory.Unassign(ctx, env.admin, record.ID)
	require.NoError(t, err)
	_, err = env.apps.RequestDocuments(ctx, env.staff, app.ID, "")
	assert.ErrorIs(t, err, ErrAuthorization)
}
