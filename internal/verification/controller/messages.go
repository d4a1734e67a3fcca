package controller

import "studentcheck/internal/verification/models"

// MessageKind tells the presentation layer how to render a message.
type MessageKind string

const (
	MessageInfo     MessageKind = "info"
	MessageSuccess  MessageKind = "success"
	MessageError    MessageKind = "error"
	MessageTerminal MessageKind = "terminal"
)

// Message is the outward copy for the current state.
type Message struct {
	Kind MessageKind `json:"kind"`
	Text string      `json:"text"`
}

const (
	MsgServiceUnavailable = "The automated verification service is currently unavailable. Please use manual verification instead."
	MsgMaxAttempts        = "Maximum verification attempts reached. Please contact support for assistance."
	MsgVerified           = "Your student status has been verified."
	MsgSubmitted          = "Your documents have been submitted for review."
	MsgResubmitted        = "Your documents have been resubmitted for review."
	MsgUnderReview        = "Your documents are under review. We'll let you know once a decision has been made."
	MsgInfoRequested      = "We need more information to verify your student status. Please update your details and resubmit."
	MsgRejected           = "Your verification was not approved. You can update your documents and resubmit."
	MsgSubmitUnreachable  = "We couldn't reach the verification service. Please check your connection and try again."
)

func infoMessage(text string) *Message     { return &Message{Kind: MessageInfo, Text: text} }
func successMessage(text string) *Message  { return &Message{Kind: MessageSuccess, Text: text} }
func errorMessage(text string) *Message    { return &Message{Kind: MessageError, Text: text} }
func terminalMessage(text string) *Message { return &Message{Kind: MessageTerminal, Text: text} }

// statusMessage is the copy shown after a backend status reload.
func statusMessage(status models.Status, feedback string) *Message {
	switch status {
	case models.StatusPending:
		return infoMessage(MsgUnderReview)
	case models.StatusCompleted:
		return successMessage(MsgVerified)
	case models.StatusRequested:
		if feedback != "" {
			return infoMessage(feedback)
		}
		return infoMessage(MsgInfoRequested)
	case models.StatusRejected:
		if feedback != "" {
			return errorMessage(feedback)
		}
		return errorMessage(MsgRejected)
	}
	return nil
}
