// Package v1alpha1 contains API Schema definitions for the sample v1alpha1 API group.
//
// # API Group: sample.converge.io/v1alpha1
//
// ## WebPage
//
// WebPage serves a static HTML page. Its controller renders the HTML into a
// ConfigMap, runs an nginx Deployment mounting it and, when exposed, a
// Service in front of the Deployment.
//
// Example:
//
//	apiVersion: sample.converge.io/v1alpha1
//	kind: WebPage
//	metadata:
//	  name: hello
//	  namespace: default
//	spec:
//	  replicas: 2
//	  exposed: true
//	  html: |
//	    <h1>Hello from {{ .metadata.name | upper }}</h1>
//
// +kubebuilder:object:generate=true
// +groupName=sample.converge.io
package v1alpha1
