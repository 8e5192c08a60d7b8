package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
)

// ChatMessage is the chat payload shared by the /app/chat STOMP destination
// and the history endpoints.
type ChatMessage struct {
	SenderID    string `json:"senderId"`
	RecipientID string `json:"recipientId"`
	ItemID      int64  `json:"itemId"`
	Content     string `json:"content"`
	Timestamp   string `json:"timestamp,omitempty"`
}

type ChatSummary struct {
	ItemID         int64  `json:"itemId"`
	SenderID       string `json:"senderId"`
	RecipientID    string `json:"recipientId"`
	LastMessage    string `json:"lastMessage,omitempty"`
	LastMessagedAt string `json:"lastMessageAt,omitempty"`
}

func (c *Client) ChatList(ctx context.Context, accessToken string, itemID int64, senderID string) ([]ChatSummary, error) {
	endpoint := fmt.Sprintf("%s/%d/%s", c.endpoints.ChatsURL, itemID, url.PathEscape(senderID))
	data, err := c.do(ctx, request{method: http.MethodGet, url: endpoint, bearerToken: accessToken, op: "chat list"})
	if err != nil {
		return nil, err
	}
	out := []ChatSummary{}
	if err := decodeJSON("chat list", data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ChatLog(ctx context.Context, accessToken string, itemID int64, senderID string, recipientID string) ([]ChatMessage, error) {
	endpoint := fmt.Sprintf("%s/%d/%s/%s", c.endpoints.MessagesURL, itemID, url.PathEscape(senderID), url.PathEscape(recipientID))
	data, err := c.do(ctx, request{method: http.MethodGet, url: endpoint, bearerToken: accessToken, op: "chat log"})
	if err != nil {
		return nil, err
	}
	out := []ChatMessage{}
	if err := decodeJSON("chat log", data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
