// Package panels resolves panel account numbers to the client that owns them.
package panels
