package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ptr[T any](v T) *T { return &v }

func TestUserCriteria_Merge(t *testing.T) {
	tests := []struct {
		name    string
		saved   UserCriteria
		update  UserCriteria
		wantMin *float64
		wantMax *float64
	}{
		{
			name:    "new max keeps saved min",
			saved:   UserCriteria{MinRent: ptr(1500.0)},
			update:  UserCriteria{MaxRent: ptr(3000.0)},
			wantMin: ptr(1500.0),
			wantMax: ptr(3000.0),
		},
		{
			name:    "new max below saved min drops the min",
			saved:   UserCriteria{MinRent: ptr(2500.0), MaxRent: ptr(4000.0)},
			update:  UserCriteria{MaxRent: ptr(2000.0)},
			wantMax: ptr(2000.0),
		},
		{
			name:    "new min above saved max drops the max",
			saved:   UserCriteria{MaxRent: ptr(2000.0)},
			update:  UserCriteria{MinRent: ptr(2200.0)},
			wantMin: ptr(2200.0),
		},
		{
			name:    "unset update keeps both",
			saved:   UserCriteria{MinRent: ptr(1000.0), MaxRent: ptr(2000.0)},
			update:  UserCriteria{Location: ptr("Bern")},
			wantMin: ptr(1000.0),
			wantMax: ptr(2000.0),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.saved.Merge(tt.update)
			assert.Equal(t, tt.wantMin, got.MinRent)
			assert.Equal(t, tt.wantMax, got.MaxRent)
		})
	}
}

func TestUserCriteria_MergeRooms(t *testing.T) {
	saved := UserCriteria{Location: ptr("Zurich"), MinRooms: ptr(3)}

	got := saved.Merge(UserCriteria{MaxRooms: ptr(4), Location: ptr("Bern")})

	assert.Equal(t, 3, *got.MinRooms)
	assert.Equal(t, 4, *got.MaxRooms)
	assert.Equal(t, "Bern", *got.Location)
	assert.Nil(t, saved.MaxRooms)
}
