package store

// Chat represents one conversation. Timestamps are epoch milliseconds.
type Chat struct {
	ID            string `json:"id"`
	Title         string `json:"title"`
	LastMessageAt int64  `json:"lastMessageAt"`
	UnreadCount   int    `json:"unreadCount"`
	CreatedAt     int64  `json:"createdAt"`
}

// Message represents one message inside a chat.
type Message struct {
	ID        string `json:"id"`
	ChatID    string `json:"chatId"`
	Sender    string `json:"sender"`
	Body      string `json:"body"`
	Timestamp int64  `json:"ts"`
	CreatedAt int64  `json:"createdAt"`
}

// ChatPage is one page of chats. HasMore reports whether the page came back
// full; exactly at a boundary it can claim a next page that turns out empty.
type ChatPage struct {
	Items   []Chat `json:"items"`
	HasMore bool   `json:"hasMore"`
}

// MessagePage is one page of messages, newest first. HasMore carries the
// same filled-page heuristic as ChatPage.
type MessagePage struct {
	Items   []Message `json:"items"`
	HasMore bool      `json:"hasMore"`
}
