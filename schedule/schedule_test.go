package schedule_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luminabi/lumina/errors"
	"github.com/luminabi/lumina/schedule"
)

func TestScheduleValidate(t *testing.T) {
	sched := testSchedule()
	assert.NoError(t, sched.Validate())

	sched = testSchedule()
	sched.ResourceID = ""
	assert.True(t, errors.IsConfiguration(sched.Validate()))

	sched = testSchedule()
	sched.Timezone = "Mars/Olympus"
	assert.True(t, errors.IsConfiguration(sched.Validate()))

	sched = testSchedule()
	sched.Format = "pdf"
	assert.True(t, errors.IsConfiguration(sched.Validate()))

	sched = testSchedule()
	sched.SuccessPolicy = "most"
	assert.True(t, errors.IsConfiguration(sched.Validate()))

	// Parses but never fires: February 30th does not exist.
	sched = testSchedule()
	sched.CronExpr = "0 0 30 2 *"
	err := sched.Validate()
	assert.True(t, errors.IsConfiguration(err))
	assert.Contains(t, err.Error(), "no future fire time")
}

func TestTargetValidate(t *testing.T) {
	tests := []struct {
		name   string
		target schedule.Target
		ok     bool
	}{
		{
			name: "email ok",
			target: schedule.Target{
				ID:    "t1",
				Kind:  schedule.TargetEmail,
				Email: &schedule.EmailOptions{Recipients: []string{"a@b.c"}},
			},
			ok: true,
		},
		{
			name:   "email missing options",
			target: schedule.Target{ID: "t1", Kind: schedule.TargetEmail},
		},
		{
			name: "chat missing webhook",
			target: schedule.Target{
				ID:   "t2",
				Kind: schedule.TargetChat,
				Chat: &schedule.ChatOptions{ChannelID: "C1"},
			},
		},
		{
			name: "spreadsheet ok",
			target: schedule.Target{
				ID:          "t3",
				Kind:        schedule.TargetSpreadsheet,
				Spreadsheet: &schedule.SpreadsheetOptions{SheetID: "sheet-1"},
			},
			ok: true,
		},
		{
			name:   "unknown kind",
			target: schedule.Target{ID: "t4", Kind: "pager"},
		},
		{
			name:   "missing id",
			target: schedule.Target{Kind: schedule.TargetEmail},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.target.Validate()
			if tt.ok {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.True(t, errors.IsConfiguration(err))
			}
		})
	}
}
