package spec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseExact(t *testing.T) {
	tests := []struct {
		input   string
		adapter string
		version string
	}{
		{"1.0.0", "", "1.0.0"},
		{"==1.0.0", "", "1.0.0"},
		{"0.19.1", "", "0.19.1"},
		{"1.1.0rc1", "", "1.1.0rc1"},
		{"1.0.0b2", "", "1.0.0b2"},
		{"dbt-snowflake==1.0.0", "snowflake", "1.0.0"},
		{"dbt-postgres==0.21.0", "postgres", "0.21.0"},
		{"dbt-sql_server==1.0.0", "sql-server", "1.0.0"},
		{"  1.0.0  # pinned for CI", "", "1.0.0"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if !s.IsExact() {
				t.Fatalf("Parse(%q) produced a range, want exact", tt.input)
			}
			assert.Equal(t, tt.adapter, s.Adapter)
			assert.Equal(t, tt.version, s.Exact.String())
		})
	}
}

func TestParseRange(t *testing.T) {
	tests := []struct {
		input     string
		adapter   string
		satisfied []string
		excluded  []string
	}{
		{">=1.0.0", "", []string{"1.0.0", "1.5.2"}, []string{"0.21.1"}},
		{">=0.19,<0.21", "", []string{"0.19.0", "0.20.2"}, []string{"0.18.2", "0.21.0"}},
		{"!=1.0.0", "", []string{"0.21.0", "1.0.1"}, []string{"1.0.0"}},
		{"~=1.0.0", "", []string{"1.0.0", "1.0.4"}, []string{"1.1.0", "0.21.0"}},
		{"dbt-snowflake>=1.0", "snowflake", []string{"1.0.0", "1.2.0"}, []string{"0.21.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if s.IsExact() {
				t.Fatalf("Parse(%q) produced an exact version, want range", tt.input)
			}
			assert.Equal(t, tt.adapter, s.Adapter)
			for _, v := range tt.satisfied {
				assert.True(t, s.Range.Check(MustParseVersion(v)), "%s should satisfy %s", v, tt.input)
			}
			for _, v := range tt.excluded {
				assert.False(t, s.Range.Check(MustParseVersion(v)), "%s should not satisfy %s", v, tt.input)
			}
		})
	}
}

func TestParseMalformed(t *testing.T) {
	for _, input := range []string{"", "   ", "not-a-version", "dbt-snowflake==", "1.2.3.4.5", ">=abc"} {
		t.Run(input, func(t *testing.T) {
			_, err := Parse(input)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want error", input)
			}
			var malformed *MalformedSpecifierError
			assert.True(t, errors.As(err, &malformed), "error should be MalformedSpecifierError, got %T", err)
		})
	}
}

func TestSpecStringRoundTrip(t *testing.T) {
	for _, input := range []string{
		"1.0.0",
		"1.1.0rc1",
		"dbt-snowflake==1.0.0",
		">=1.0,<2.0",
	} {
		s, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) failed: %v", input, err)
		}
		reparsed, err := Parse(s.String())
		if err != nil {
			t.Fatalf("Parse(%q) failed on round trip: %v", s.String(), err)
		}
		assert.Equal(t, s.String(), reparsed.String())
		assert.Equal(t, s.Adapter, reparsed.Adapter)
		assert.Equal(t, s.IsExact(), reparsed.IsExact())
	}
}

func TestNormalizeAdapter(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"snowflake", "snowflake"},
		{"Snowflake", "snowflake"},
		{"dbt-snowflake", "snowflake"},
		{"dbt_sql_server", "sql-server"},
		{"  postgres ", "postgres"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeAdapter(tt.input))
	}
}

func TestPackageName(t *testing.T) {
	assert.Equal(t, "dbt-snowflake", PackageName("snowflake"))
	assert.Equal(t, "dbt-snowflake", PackageName("dbt-snowflake"))
	assert.Equal(t, "dbt-sql-server", PackageName("sql_server"))
}

func TestConstraintPrereleaseCheck(t *testing.T) {
	// pip considers 0.20.0rc1 to fall inside >=0.19,<0.21; a strict semver
	// comparison would reject the pre-release outright.
	c, err := ParseConstraint(">=0.19,<0.21")
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, c.Check(MustParseVersion("0.20.0rc1")))
	assert.False(t, c.Check(MustParseVersion("0.21.0rc1")))
}

func TestConstraintExactClause(t *testing.T) {
	c, err := ParseConstraint("==0.21.0")
	if err != nil {
		t.Fatal(err)
	}
	assert.True(t, c.Check(MustParseVersion("0.21.0")))
	assert.False(t, c.Check(MustParseVersion("0.21.1")))
}
