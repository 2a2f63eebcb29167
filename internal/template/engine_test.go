package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

func TestEngine_Render(t *testing.T) {
	e := New()
	data := map[string]interface{}{"name": "web", "replicas": 3}

	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{name: "plain text", text: "no templates here", want: "no templates here"},
		{name: "field", text: "hello {{ .name }}", want: "hello web"},
		{name: "sprig function", text: `{{ .name | upper }}-{{ add .replicas 1 }}`, want: "WEB-4"},
		{name: "sprig default", text: `{{ index . "name" | default "fallback" }}`, want: "web"},
		{name: "missing key", text: "{{ .missing }}", wantErr: true},
		{name: "syntax error", text: "{{ .name ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Render(tt.text, data)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_Replace(t *testing.T) {
	e := New()
	data := map[string]interface{}{"name": "web"}

	value := map[string]interface{}{
		"title": "{{ .name | title }}",
		"items": []interface{}{"{{ .name }}-a", 42},
		"count": 7,
	}
	got, err := e.Replace(value, data)
	require.NoError(t, err)

	assert.Equal(t, map[string]interface{}{
		"title": "Web",
		"items": []interface{}{"web-a", 42},
		"count": 7,
	}, got)

	_, err = e.Replace(map[string]interface{}{"bad": []interface{}{"{{ .nope }}"}}, data)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error in key 'bad'")
	assert.Contains(t, err.Error(), "error at index 0")
}

func TestEngine_RenderMap(t *testing.T) {
	e := New()
	got, err := e.RenderMap(map[string]string{"index.html": "<h1>{{ .title }}</h1>"}, map[string]interface{}{"title": "Hi"})
	require.NoError(t, err)
	assert.Equal(t, "<h1>Hi</h1>", got["index.html"])
}

func TestObjectContext(t *testing.T) {
	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "page", Namespace: "default"},
		Data:       map[string]string{"k": "v"},
	}
	ctx, err := ObjectContext(cm)
	require.NoError(t, err)

	merged := MergeContexts(ctx, map[string]interface{}{"extra": true})
	got, err := New().Render(`{{ .metadata.name }}/{{ .data.k }}/{{ .extra }}`, merged)
	require.NoError(t, err)
	assert.Equal(t, "page/v/true", got)
}
