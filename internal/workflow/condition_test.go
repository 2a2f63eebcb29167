package workflow

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestCELCondition(t *testing.T) {
	page := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "page", Namespace: "default", Labels: map[string]string{"tier": "web"}},
		Data:       map[string]string{"exposed": "true"},
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{name: "data lookup", expr: `self.data.exposed == "true"`, want: true},
		{name: "label lookup", expr: `self.metadata.labels.tier == "db"`, want: false},
		{name: "has guard", expr: `has(self.data.missing) && self.data.missing == "x"`, want: false},
		{name: "dynamic result", expr: `self.metadata.name.startsWith("pa")`, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := CELCondition[*corev1.ConfigMap](tt.expr)
			require.NoError(t, err)

			got, err := cond(context.Background(), page)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCELCondition_Errors(t *testing.T) {
	_, err := CELCondition[*corev1.ConfigMap](`self.data.exposed ==`)
	assert.Error(t, err, "syntax errors are reported at construction")

	_, err = CELCondition[*corev1.ConfigMap](`1 + 2`)
	assert.Error(t, err, "non-boolean expressions are rejected")

	cond, err := CELCondition[*corev1.ConfigMap](`self.data.missing == "x"`)
	require.NoError(t, err)
	_, err = cond(context.Background(), &corev1.ConfigMap{Data: map[string]string{}})
	assert.Error(t, err, "missing keys fail at evaluation")

	assert.Panics(t, func() { MustCELCondition[*corev1.ConfigMap](`(`) })
}

func TestNot(t *testing.T) {
	ctx := context.Background()

	got, err := Not(met(true))(ctx, primary())
	require.NoError(t, err)
	assert.False(t, got)

	got, err = Not(met(false))(ctx, primary())
	require.NoError(t, err)
	assert.True(t, got)

	failing := func(context.Context, *corev1.ConfigMap) (bool, error) { return true, errors.New("boom") }
	got, err = Not[*corev1.ConfigMap](failing)(ctx, primary())
	assert.Error(t, err)
	assert.False(t, got)
}
