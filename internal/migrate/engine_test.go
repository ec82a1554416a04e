package migrate

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// appendTrail returns a transform that records its label in doc["trail"].
func appendTrail(label string) Transform {
	return func(doc Document) error {
		trail, _ := doc["trail"].([]any)
		doc["trail"] = append(trail, label)
		return nil
	}
}

func twoStepRegistry() *Registry {
	return NewRegistry("version").
		Add("0.1.0", appendTrail("a")).
		Add("0.2.0", appendTrail("b"))
}

func TestUpgrade_LatestIsNoOp(t *testing.T) {
	doc, err := Parse([]byte(`{"version":"0.2.0","states":{"1":{"n":1.50}}}`))
	require.NoError(t, err)
	before, err := doc.Marshal()
	require.NoError(t, err)

	res, err := Upgrade(doc, twoStepRegistry())
	require.NoError(t, err)
	assert.Equal(t, NoUpdateNeeded, res)

	after, err := doc.Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))
	assert.NotContains(t, doc, "trail")
}

func TestUpgrade_UntaggedReceivesEveryStepInOrder(t *testing.T) {
	doc := Document{"payload": "x"}

	res, err := Upgrade(doc, twoStepRegistry())
	require.NoError(t, err)
	assert.Equal(t, Updated, res)

	want := Document{
		"version": "0.2.0",
		"payload": "x",
		"trail":   []any{"a", "b"},
	}
	if diff := cmp.Diff(want, doc); diff != "" {
		t.Errorf("upgraded document mismatch (-want +got):\n%s", diff)
	}
}

func TestUpgrade_TaggedReceivesOnlyLaterSteps(t *testing.T) {
	doc := Document{"version": "0.1.0"}

	res, err := Upgrade(doc, twoStepRegistry())
	require.NoError(t, err)
	assert.Equal(t, Updated, res)
	assert.Equal(t, "0.2.0", doc["version"])
	assert.Equal(t, []any{"b"}, doc["trail"])
}

func TestUpgrade_EachStepAppliedOnce(t *testing.T) {
	calls := map[string]int{}
	count := func(v string) Transform {
		return func(Document) error {
			calls[v]++
			return nil
		}
	}
	reg := NewRegistry("version").
		Add("0.1.0", count("0.1.0")).
		Add("0.2.0", count("0.2.0")).
		Add("1.0.0", count("1.0.0"))

	doc := Document{}
	_, err := Upgrade(doc, reg)
	require.NoError(t, err)
	res, err := Upgrade(doc, reg)
	require.NoError(t, err)

	assert.Equal(t, NoUpdateNeeded, res)
	assert.Equal(t, map[string]int{"0.1.0": 1, "0.2.0": 1, "1.0.0": 1}, calls)
}

func TestUpgrade_TagSetAfterEachStep(t *testing.T) {
	var seen []any
	reg := NewRegistry("version").
		Add("0.1.0", nil).
		Add("0.2.0", func(doc Document) error {
			seen = append(seen, doc["version"])
			return nil
		})

	_, err := Upgrade(Document{}, reg)
	require.NoError(t, err)
	assert.Equal(t, []any{"0.1.0"}, seen)
}

func TestUpgrade_UnknownVersion(t *testing.T) {
	tests := []struct {
		name        string
		doc         Document
		wantVersion string
	}{
		{"future version", Document{"version": "9.9.9", "states": map[string]any{}}, "9.9.9"},
		{"version older than first step", Document{"version": "0.0.1"}, "0.0.1"},
		{"empty string", Document{"version": ""}, ""},
		{"non-string tag", Document{"version": 2.0}, "2"},
		{"null tag", Document{"version": nil}, "<nil>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.doc.Clone()

			res, err := Upgrade(tt.doc, twoStepRegistry())
			require.Error(t, err)
			assert.Equal(t, NoUpdateNeeded, res)
			assert.True(t, errors.Is(err, ErrUnknownVersion))

			var uv *UnknownVersionError
			require.True(t, errors.As(err, &uv))
			assert.Equal(t, tt.wantVersion, uv.Version)
			assert.Equal(t, "0.2.0", uv.LatestVersion)

			if diff := cmp.Diff(original, tt.doc); diff != "" {
				t.Errorf("document changed on error (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpgrade_StepErrorLeavesDocumentUnchanged(t *testing.T) {
	boom := errors.New("boom")
	reg := NewRegistry("version").
		Add("0.1.0", func(doc Document) error {
			doc["touched"] = true
			return nil
		}).
		Add("0.2.0", func(Document) error { return boom })

	doc := Document{"payload": []any{"x"}}
	original := doc.Clone()

	_, err := Upgrade(doc, reg)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)

	var se *StepError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "0.2.0", se.Version)

	if diff := cmp.Diff(original, doc); diff != "" {
		t.Errorf("document changed on step error (-want +got):\n%s", diff)
	}
}

func TestUpgrade_EmptyRegistry(t *testing.T) {
	_, err := Upgrade(Document{}, NewRegistry("version"))
	assert.ErrorIs(t, err, ErrEmptyRegistry)
}

func TestUpgrade_NilDocument(t *testing.T) {
	var doc Document
	require.NotPanics(t, func() {
		res, err := Upgrade(doc, NewRegistry("version").Add("0.1.0", nil))
		assert.ErrorIs(t, err, ErrNotObject)
		assert.Equal(t, NoUpdateNeeded, res)
	})
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "no_update_needed", NoUpdateNeeded.String())
	assert.Equal(t, "updated", Updated.String())
	assert.Equal(t, "Result(7)", Result(7).String())
}
