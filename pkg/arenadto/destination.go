package arenadto

import "strings"

// Broadcast topics.
const (
	TopicLobbyUsers = "lobby/users"
	gameTopicPrefix = "game/"
)

// Per-user queues.
const (
	QueueErrors      = "errors"
	QueueInvitations = "invitations"
	QueueLobbyUsers  = "lobby/users"
)

func GameTopic(gameID string) string { return gameTopicPrefix + gameID }

// GameIDFromTopic returns the game id for a "game/<id>" topic.
func GameIDFromTopic(topic string) (string, bool) {
	if !strings.HasPrefix(topic, gameTopicPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(topic, gameTopicPrefix)
	return id, id != ""
}

func TopicDestination(topic string) string { return "topic:" + topic }
func QueueDestination(queue string) string { return "queue:" + queue }
