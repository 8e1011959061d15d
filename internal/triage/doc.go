// Package triage provides the business boundary for triageflow's inbox triage.
// It defines the Service (per-item workflow state machine and the operations
// offered to front ends), the Scanner (gatekeeper loop that auto-resolves low
// value items and halts on the rest), the Classifier, Drafter and Refiner
// stages that call the model, the Store interface (persistence) and domain
// models.
package triage
