package domain

// Fixed user-visible answer strings. These are part of the API
// contract and must be used verbatim, never templated per question.
const (
	// TimeoutAnswer substitutes for any question that did not reach a
	// terminal state before the global deadline.
	TimeoutAnswer = "I apologize, but I wasn't able to complete the response within the time limit. Please try again with a more specific question."

	// ErrorAnswer substitutes for a question that failed for any
	// reason other than timeout.
	ErrorAnswer = "I apologize, but there was an error processing your question."

	// BlockedQuestionAnswer replaces a question whose risk score bands
	// critical.
	BlockedQuestionAnswer = "I cannot process this question as it contains potentially harmful content. Please rephrase your question."

	// NoWebContentAnswer is returned when the web-context collaborator
	// yields no chunks for a non-document URL.
	NoWebContentAnswer = "I couldn't extract any readable content from the provided URL. Please share a document or a different link."

	// OversizeAnswer rejects bin/zip document URLs, which are never
	// downloaded.
	OversizeAnswer = "Document Rejected! File too large"

	// GroundingFallback is the string the model is instructed to emit
	// when the excerpts cannot answer the question.
	GroundingFallback = "The provided document does not contain information to answer this question."
)
