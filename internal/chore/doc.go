// Package chore tracks recurring maintenance tasks from a history of
// completion documents. The chores view reduces each chore's completions
// to the latest one, which carries the next due time.
package chore
