package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/uuid"
)

// envelope is one request frame of the asynchronous messaging API.
type envelope struct {
	Kind string      `json:"kind"`
	ID   string      `json:"id"`
	Type string      `json:"type"`
	Body interface{} `json:"body"`
}

type responseFrame struct {
	Kind  string          `json:"kind"`
	ReqID string          `json:"reqId"`
	Code  int             `json:"code"`
	Body  json.RawMessage `json:"body"`
}

func request(typ string, body interface{}) envelope {
	return envelope{Kind: "req", ID: uuid.NewString(), Type: typ, Body: body}
}

func (c *Client) messagingHeaders(appToken, consumerToken string) map[string]string {
	return map[string]string{
		"Authorization":  appToken,
		"X-On-Behalf-Of": consumerToken,
	}
}

func (c *Client) messagingURL(ctx context.Context, accountID, path string) (string, error) {
	return c.serviceURL(ctx, accountID, ServiceMessaging,
		fmt.Sprintf("/api/account/%s/messaging/consumer/conversation%s?v=3", url.PathEscape(accountID), path))
}

// CreateConversation sets the consumer profile and requests a conversation
// routed to req.SkillID, returning the new conversation id.
func (c *Client) CreateConversation(ctx context.Context, accountID, appToken, consumerToken string, req ConversationRequest) (string, error) {
	if appToken == "" || consumerToken == "" {
		return "", fmt.Errorf("platform: create conversation: app and consumer tokens are required")
	}
	u, err := c.messagingURL(ctx, accountID, "")
	if err != nil {
		return "", err
	}

	profile := map[string]interface{}{"brandId": accountID}
	if req.Profile != nil {
		profile["firstName"] = req.Profile.FirstName
		profile["lastName"] = req.Profile.LastName
		profile["email"] = req.Profile.Email
	}
	convBody := map[string]interface{}{"brandId": accountID}
	if req.SkillID != "" {
		convBody["skillId"] = req.SkillID
	}
	if len(req.Context) > 0 {
		convBody["conversationContext"] = req.Context
	}

	frames := []envelope{
		request("userprofile.SetUserProfile", profile),
		request("cm.ConsumerRequestConversation", convBody),
	}

	var out []responseFrame
	if err := c.do(ctx, "create_conversation", http.MethodPost, u,
		c.messagingHeaders(appToken, consumerToken), frames, &out); err != nil {
		return "", err
	}

	for _, f := range out {
		if f.ReqID != frames[1].ID {
			continue
		}
		if f.Code >= 300 {
			return "", &StatusError{Op: "create_conversation", Code: f.Code, Body: string(f.Body)}
		}
		var body struct {
			ConversationID string `json:"conversationId"`
		}
		if err := json.Unmarshal(f.Body, &body); err != nil {
			return "", fmt.Errorf("platform: create conversation: decode body: %w", err)
		}
		if body.ConversationID == "" {
			break
		}
		return body.ConversationID, nil
	}
	return "", fmt.Errorf("platform: create conversation: no conversation id in response")
}

// PublishMessage sends a plain-text consumer message into a dialog.
func (c *Client) PublishMessage(ctx context.Context, accountID, appToken, consumerToken, conversationID, dialogID, text string) error {
	u, err := c.messagingURL(ctx, accountID, "/send")
	if err != nil {
		return err
	}
	frame := request("ms.PublishEvent", map[string]interface{}{
		"conversationId": conversationID,
		"dialogId":       dialogID,
		"event": map[string]string{
			"type":        "ContentEvent",
			"contentType": "text/plain",
			"message":     text,
		},
	})
	return c.do(ctx, "publish_message", http.MethodPost, u,
		c.messagingHeaders(appToken, consumerToken), frame, nil)
}

// CloseConversation closes the conversation, or only dialogID when set.
func (c *Client) CloseConversation(ctx context.Context, accountID, appToken, consumerToken, conversationID, dialogID, cause string) error {
	u, err := c.messagingURL(ctx, accountID, "/send")
	if err != nil {
		return err
	}

	var field map[string]interface{}
	if dialogID == "" {
		field = map[string]interface{}{
			"field":             "ConversationStateField",
			"conversationState": "CLOSE",
		}
	} else {
		field = map[string]interface{}{
			"field": "DialogChange",
			"type":  "UPDATE",
			"dialog": map[string]string{
				"dialogId":    dialogID,
				"state":       "CLOSE",
				"closedCause": cause,
			},
		}
	}
	frame := request("cm.UpdateConversationField", map[string]interface{}{
		"conversationId":    conversationID,
		"conversationField": []interface{}{field},
	})
	return c.do(ctx, "close_conversation", http.MethodPost, u,
		c.messagingHeaders(appToken, consumerToken), frame, nil)
}
