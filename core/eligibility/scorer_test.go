package eligibility

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/educhain/educhain/core"
)

func fptr(f float64) *float64 { return &f }

func TestPolicy_Score(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name       string
		in         Input
		suspended  bool
		wantScore  int
		wantStatus string
		wantErr    bool
	}{
		{
			name:       "high performing school",
			in:         Input{AttendanceRate: fptr(90), NutritionParticipation: fptr(85), TeacherTrainingHours: fptr(20), CommunityEngagement: fptr(95)},
			wantScore:  93, // 92.5 rounded half-up
			wantStatus: StatusEligible,
		},
		{
			name:       "suspended institution is never eligible",
			in:         Input{AttendanceRate: fptr(90), NutritionParticipation: fptr(85), TeacherTrainingHours: fptr(20), CommunityEngagement: fptr(95)},
			suspended:  true,
			wantScore:  93,
			wantStatus: StatusIneligible,
		},
		{name: "missing values count as zero", in: Input{}, wantScore: 0, wantStatus: StatusIneligible},
		{
			name:       "exactly at threshold",
			in:         Input{AttendanceRate: fptr(60), NutritionParticipation: fptr(60), TeacherTrainingHours: fptr(12), CommunityEngagement: fptr(60)},
			wantScore:  60,
			wantStatus: StatusEligible,
		},
		{
			name:       "just below threshold",
			in:         Input{AttendanceRate: fptr(59), NutritionParticipation: fptr(59), TeacherTrainingHours: fptr(11.8), CommunityEngagement: fptr(59)},
			wantScore:  59,
			wantStatus: StatusIneligible,
		},
		{
			name:       "training hours capped at target",
			in:         Input{TeacherTrainingHours: fptr(80)},
			wantScore:  15,
			wantStatus: StatusIneligible,
		},
		{name: "half rounds up", in: Input{AttendanceRate: fptr(2)}, wantScore: 1, wantStatus: StatusIneligible},
		{name: "below half rounds down", in: Input{AttendanceRate: fptr(1.9)}, wantScore: 0, wantStatus: StatusIneligible},
		{
			name:       "perfect score",
			in:         Input{AttendanceRate: fptr(100), NutritionParticipation: fptr(100), TeacherTrainingHours: fptr(20), CommunityEngagement: fptr(100)},
			wantScore:  100,
			wantStatus: StatusEligible,
		},
		{name: "attendance above 100", in: Input{AttendanceRate: fptr(101)}, wantErr: true},
		{name: "negative nutrition", in: Input{NutritionParticipation: fptr(-1)}, wantErr: true},
		{name: "negative training hours", in: Input{TeacherTrainingHours: fptr(-0.5)}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := policy.Score(tt.in, tt.suspended)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, core.IsValidation(err), "want ValidationError, got %T", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantScore, got.Score)
			assert.Equal(t, tt.wantStatus, got.Status)

			again, err := policy.Score(tt.in, tt.suspended)
			require.NoError(t, err)
			assert.Equal(t, got, again, "scoring must be deterministic")
		})
	}
}

func TestPolicy_Score_customWeights(t *testing.T) {
	policy := Policy{
		Weights:             Weights{Attendance: 50, Nutrition: 50},
		MinScore:            70,
		TrainingHoursTarget: 10,
	}
	got, err := policy.Score(Input{AttendanceRate: fptr(80), NutritionParticipation: fptr(70), CommunityEngagement: fptr(0)}, false)
	require.NoError(t, err)
	assert.Equal(t, Result{Score: 75, Status: StatusEligible}, got)
}

func TestPolicy_Validate(t *testing.T) {
	tests := []struct {
		name    string
		policy  Policy
		wantErr bool
	}{
		{name: "defaults", policy: DefaultPolicy()},
		{name: "weights do not sum to 100", policy: Policy{Weights: Weights{Attendance: 25, Nutrition: 25}, MinScore: 60, TrainingHoursTarget: 20}, wantErr: true},
		{name: "negative weight", policy: Policy{Weights: Weights{Attendance: 120, Nutrition: -20}, MinScore: 60, TrainingHoursTarget: 20}, wantErr: true},
		{name: "threshold out of range", policy: Policy{Weights: DefaultWeights(), MinScore: 101, TrainingHoursTarget: 20}, wantErr: true},
		{name: "zero training target", policy: Policy{Weights: DefaultWeights(), MinScore: 60}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.wantErr {
				assert.True(t, core.IsValidation(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
