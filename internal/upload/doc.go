// Package upload provides the upload functions the dispatcher runs: a
// simulated one for demos and load tests, and one that copies files into the
// per-user store and indexes them in a badger-backed manifest.
package upload
