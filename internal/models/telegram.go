package models

import "time"

// TelegramConfig holds Telegram notification configuration.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// TelegramMessage holds the data for a backup notification.
type TelegramMessage struct {
	Success   bool
	Host      string
	Mode      Mode
	StartTime time.Time
	Duration  time.Duration

	// Archive details (if successful).
	ArchivePath  string
	SizeHuman    string
	Checksum     string
	VerifyStatus VerifyStatus
	Warnings     []string

	// Error info (if failed).
	ErrorMessage string
	FailedStep   string
}

// TelegramResult holds the result of a Telegram notification.
type TelegramResult struct {
	MessageSent bool
	Error       error
}
