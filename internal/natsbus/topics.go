package natsbus

import "fmt"

// Topic patterns for the swarm telemetry stream.

func TopicMessage(recipient string) string {
	return fmt.Sprintf("events.message.%s", recipient)
}

func TopicVote(proposalID string) string {
	return fmt.Sprintf("events.vote.%s", proposalID)
}

func TopicProposal(proposalID string) string {
	return fmt.Sprintf("events.proposal.%s", proposalID)
}

func TopicTask(taskID string) string {
	return fmt.Sprintf("events.task.%s", taskID)
}

func TopicAlert(severity string) string {
	return fmt.Sprintf("events.alert.%s", severity)
}

func TopicDiagnostics(swarmName string) string {
	return fmt.Sprintf("events.diag.%s", swarmName)
}

const (
	TopicEventsAll      = "events.>"
	TopicEventsMessages = "events.message.*"
	TopicEventsVotes    = "events.vote.*"
	TopicEventsTasks    = "events.task.*"
	TopicEventsAlerts   = "events.alert.*"
)
