package v1alpha1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
)

func TestScheme_KnowsWebPage(t *testing.T) {
	for _, obj := range []runtime.Object{&WebPage{}, &WebPageList{}} {
		gvks, _, err := Scheme.ObjectKinds(obj)
		require.NoError(t, err)
		require.Len(t, gvks, 1)
		assert.Equal(t, GroupVersion, gvks[0].GroupVersion())
	}

	assert.True(t, Scheme.Recognizes(GroupVersion.WithKind("WebPage")))
	assert.True(t, Scheme.Recognizes(corev1.SchemeGroupVersion.WithKind("ConfigMap")))
}

func TestScheme_OwnerReferenceToWebPage(t *testing.T) {
	page := &WebPage{ObjectMeta: metav1.ObjectMeta{Name: "hello", Namespace: "default", UID: "uid-1"}}
	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: "hello-html", Namespace: "default"}}

	require.NoError(t, controllerutil.SetControllerReference(page, cm, Scheme))

	owner := metav1.GetControllerOf(cm)
	require.NotNil(t, owner)
	assert.Equal(t, "WebPage", owner.Kind)
	assert.Equal(t, GroupVersion.String(), owner.APIVersion)
}

func TestAddToScheme(t *testing.T) {
	s := runtime.NewScheme()
	require.NoError(t, AddToScheme(s))
	assert.True(t, s.Recognizes(GroupVersion.WithKind("WebPageList")))
}
