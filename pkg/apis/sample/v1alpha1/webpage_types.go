package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// WebPageKind is the kind of WebPage resources.
const WebPageKind = "WebPage"

// WebPageSpec defines the desired state of WebPage
type WebPageSpec struct {
	// HTML is the page content. It is rendered as a Go template with sprig
	// functions against the WebPage object before being served.
	// +kubebuilder:validation:Required
	HTML string `json:"html" yaml:"html"`

	// Replicas is the number of nginx pods serving the page.
	// +kubebuilder:default=1
	// +kubebuilder:validation:Minimum=0
	Replicas *int32 `json:"replicas,omitempty" yaml:"replicas,omitempty"`

	// Exposed creates a Service in front of the pods.
	// +kubebuilder:default=false
	Exposed bool `json:"exposed,omitempty" yaml:"exposed,omitempty"`
}

// WebPageStatus defines the observed state of WebPage
type WebPageStatus struct {
	// HTMLConfigMap is the name of the ConfigMap holding the rendered page.
	HTMLConfigMap string `json:"htmlConfigMap,omitempty" yaml:"htmlConfigMap,omitempty"`

	// Ready is true once the page is served by at least one pod.
	Ready bool `json:"ready,omitempty" yaml:"ready,omitempty"`

	// ErrorMessage contains the error of the most recent failed reconciliation
	ErrorMessage string `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`

	// ObservedGeneration is the generation the status was computed for.
	ObservedGeneration int64 `json:"observedGeneration,omitempty" yaml:"observedGeneration,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=wp
// +kubebuilder:printcolumn:name="Replicas",type="integer",JSONPath=".spec.replicas"
// +kubebuilder:printcolumn:name="Exposed",type="boolean",JSONPath=".spec.exposed"
// +kubebuilder:printcolumn:name="Ready",type="boolean",JSONPath=".status.ready"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"

// WebPage is the Schema for the webpages API
type WebPage struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   WebPageSpec   `json:"spec,omitempty"`
	Status WebPageStatus `json:"status,omitempty"`
}

// +kubebuilder:object:root=true

// WebPageList contains a list of WebPage
type WebPageList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []WebPage `json:"items"`
}
