package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterValidate(t *testing.T) {
	tests := []struct {
		name      string
		filter    *Filter
		wantField string
	}{
		{name: "nil filter", filter: nil},
		{name: "zero filter", filter: &Filter{}},
		{
			name:   "valid filter",
			filter: &Filter{Tags: []string{"smoke"}, Priority: "High", FolderPrefix: []string{"auth", "login"}},
		},
		{
			name:      "empty value in set",
			filter:    &Filter{Tags: []string{"smoke", "  "}},
			wantField: "tags",
		},
		{
			name:      "oversize value",
			filter:    &Filter{TestType: strings.Repeat("x", MaxFilterValueLen+1)},
			wantField: "test_type",
		},
		{
			name: "oversize set",
			filter: &Filter{Platforms: func() []string {
				vals := make([]string, MaxFilterSetSize+1)
				for i := range vals {
					vals[i] = "p"
				}
				return vals
			}()},
			wantField: "platforms",
		},
		{
			name:      "control characters",
			filter:    &Filter{RelatedKeys: []string{"FRAMED-1\n"}},
			wantField: "related_keys",
		},
		{
			name:      "unknown priority",
			filter:    &Filter{Priority: "Urgent"},
			wantField: "priority",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.filter.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidInput)

			var ferr *FilterError
			require.ErrorAs(t, err, &ferr)
			require.NotEmpty(t, ferr.Fields)
			assert.Equal(t, tt.wantField, ferr.Fields[0].Field)
		})
	}
}

func TestFilterValidateCollectsAllFields(t *testing.T) {
	f := &Filter{
		Tags:     []string{""},
		Priority: "Whenever",
	}
	err := f.Validate()
	require.Error(t, err)

	var ferr *FilterError
	require.ErrorAs(t, err, &ferr)
	assert.Len(t, ferr.Fields, 2)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		value   string
		want    bool
	}{
		{"FRAMED-1390", "FRAMED-1390", true},
		{"FRAMED-1390", "FRAMED-13900", false},
		{"FRAMED-*", "FRAMED-1390", true},
		{"FRAMED-*", "WEB-1390", false},
		{"*-1390", "FRAMED-1390", true},
		{"FRAMED-13?0", "FRAMED-1390", true},
		{"FRAMED-13?0", "FRAMED-130", false},
		{"*", "", true},
		{"**a*", "bca", true},
		{"?", "", false},
		{"", "", true},
		{"", "x", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, MatchGlob(tt.pattern, tt.value),
			"pattern=%q value=%q", tt.pattern, tt.value)
	}
}

func TestFilterMatches(t *testing.T) {
	doc := &TestDoc{
		UID:         "TC-1",
		ExternalKey: "FRAMED-1390",
		Title:       "login page loads",
		Priority:    PriorityHigh,
		TestType:    "Manual",
		Platforms:   []string{"ios", "android"},
		Tags:        []string{"smoke", "auth"},
		FolderPath:  []string{"auth", "login", "happy-path"},
		RelatedKeys: []string{"FRAMED-1000"},
	}

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{name: "zero matches", filter: Filter{}, want: true},
		{name: "tag subset", filter: Filter{Tags: []string{"smoke"}}, want: true},
		{name: "tag superset fails", filter: Filter{Tags: []string{"smoke", "regression"}}, want: false},
		{name: "platform subset", filter: Filter{Platforms: []string{"ios", "android"}}, want: true},
		{name: "priority exact", filter: Filter{Priority: "High"}, want: true},
		{name: "priority mismatch", filter: Filter{Priority: "Low"}, want: false},
		{name: "folder prefix", filter: Filter{FolderPrefix: []string{"auth", "login"}}, want: true},
		{name: "folder prefix too deep", filter: Filter{FolderPrefix: []string{"auth", "login", "happy-path", "x"}}, want: false},
		{name: "folder prefix mismatch", filter: Filter{FolderPrefix: []string{"billing"}}, want: false},
		{name: "related intersects", filter: Filter{RelatedKeys: []string{"FRAMED-1000", "FRAMED-9"}}, want: true},
		{name: "related disjoint", filter: Filter{RelatedKeys: []string{"FRAMED-9"}}, want: false},
		{name: "glob", filter: Filter{ExternalKeyPattern: "FRAMED-*"}, want: true},
		{name: "glob mismatch", filter: Filter{ExternalKeyPattern: "WEB-*"}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(doc))
		})
	}
}
