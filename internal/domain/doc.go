// Package domain defines core data models, interfaces and errors shared
// across the app. It contains plain types (wire/state), contracts
// (interfaces) and the error taxonomy only.
package domain
