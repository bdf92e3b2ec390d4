// Package rules merges per-repository extraction rules into one base rule
// per component type plus minimal per-repository overrides, and merges the
// linking rules that accompany them.
package rules
