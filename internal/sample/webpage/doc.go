// Package webpage is a sample controller built on converge.
//
// A WebPage primary owns three secondaries, reconciled by a workflow:
//
//	configmap ──▶ deployment ──▶ service
//
// The ConfigMap holds the page HTML, rendered as a template against the
// WebPage. The Deployment serves it and is ready once a replica is
// available. The Service exists only while spec.exposed is true. The
// reconciler copies the workflow outcome into the WebPage status.
package webpage
