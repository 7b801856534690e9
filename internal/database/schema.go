package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema lists the DDL statements applied by Migrate, in dependency order.
// Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS offices (
		id          BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name        VARCHAR(120) NOT NULL,
		code        VARCHAR(32)  NOT NULL,
		address     VARCHAR(255) NOT NULL DEFAULT '',
		city        VARCHAR(120) NOT NULL DEFAULT '',
		floor       VARCHAR(32)  NOT NULL DEFAULT '',
		description TEXT         NOT NULL,
		is_active   BOOLEAN      NOT NULL DEFAULT TRUE,
		created_at  DATETIME     NOT NULL,
		updated_at  DATETIME     NOT NULL,
		UNIQUE KEY uq_offices_code (code)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS accounts (
		id                    BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		name                  VARCHAR(100) NOT NULL,
		email                 VARCHAR(255) NOT NULL,
		password_hash         VARCHAR(100) NOT NULL,
		role                  ENUM('user','servicedesk','admin') NOT NULL DEFAULT 'user',
		is_active             BOOLEAN      NOT NULL DEFAULT TRUE,
		is_verified           BOOLEAN      NOT NULL DEFAULT FALSE,
		phone                 VARCHAR(40)  NOT NULL DEFAULT '',
		department            VARCHAR(120) NOT NULL DEFAULT '',
		avatar                VARCHAR(500) NOT NULL DEFAULT '',
		preferences           JSON         NULL,
		preferred_office_id   BIGINT UNSIGNED NULL,
		preferred_workstation VARCHAR(64)  NOT NULL DEFAULT '',
		created_at            DATETIME     NOT NULL,
		updated_at            DATETIME     NOT NULL,
		UNIQUE KEY uq_accounts_email (email),
		KEY idx_accounts_role_active (role, is_active),
		CONSTRAINT fk_accounts_office FOREIGN KEY (preferred_office_id) REFERENCES offices(id) ON DELETE SET NULL
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS refresh_tokens (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		account_id BIGINT UNSIGNED NOT NULL,
		token_hash CHAR(64)        NOT NULL,
		expires_at DATETIME        NOT NULL,
		created_at DATETIME(6)     NOT NULL,
		UNIQUE KEY uq_refresh_tokens_hash (token_hash),
		KEY idx_refresh_tokens_account (account_id, created_at),
		KEY idx_refresh_tokens_expires (expires_at),
		CONSTRAINT fk_refresh_tokens_account FOREIGN KEY (account_id) REFERENCES accounts(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS reports (
		id                     BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		creator_id             BIGINT UNSIGNED NOT NULL,
		office_id              BIGINT UNSIGNED NOT NULL,
		workstation            VARCHAR(64)  NOT NULL DEFAULT '',
		title                  VARCHAR(200) NOT NULL,
		description            TEXT         NOT NULL,
		category               VARCHAR(32)  NOT NULL,
		priority               VARCHAR(16)  NOT NULL DEFAULT 'medium',
		status                 VARCHAR(16)  NOT NULL DEFAULT 'open',
		assignee_id            BIGINT UNSIGNED NULL,
		assigned_at            DATETIME NULL,
		resolved_at            DATETIME NULL,
		closed_at              DATETIME NULL,
		resolution_description TEXT NULL,
		resolved_by            BIGINT UNSIGNED NULL,
		resolution_at          DATETIME NULL,
		rating_score           TINYINT NULL,
		rating_comment         TEXT NULL,
		rated_at               DATETIME NULL,
		version                INT NOT NULL DEFAULT 1,
		created_at             DATETIME NOT NULL,
		updated_at             DATETIME NOT NULL,
		KEY idx_reports_creator (creator_id),
		KEY idx_reports_assignee (assignee_id),
		KEY idx_reports_status (status),
		CONSTRAINT fk_reports_creator FOREIGN KEY (creator_id) REFERENCES accounts(id),
		CONSTRAINT fk_reports_assignee FOREIGN KEY (assignee_id) REFERENCES accounts(id) ON DELETE SET NULL,
		CONSTRAINT fk_reports_office FOREIGN KEY (office_id) REFERENCES offices(id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS report_status_history (
		id         BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		report_id  BIGINT UNSIGNED NOT NULL,
		status     VARCHAR(16)     NOT NULL,
		changed_by BIGINT UNSIGNED NOT NULL,
		changed_at DATETIME        NOT NULL,
		KEY idx_history_report (report_id, changed_at),
		CONSTRAINT fk_history_report FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,

	`CREATE TABLE IF NOT EXISTS report_attachments (
		id            BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
		report_id     BIGINT UNSIGNED NOT NULL,
		filename      VARCHAR(255)  NOT NULL,
		url           VARCHAR(1000) NOT NULL,
		mime_type     VARCHAR(100)  NOT NULL DEFAULT '',
		size_bytes    BIGINT        NOT NULL DEFAULT 0,
		ai_tags       JSON          NULL,
		ai_confidence DOUBLE        NOT NULL DEFAULT 0,
		ai_processed  BOOLEAN       NOT NULL DEFAULT FALSE,
		uploaded_at   DATETIME      NOT NULL,
		KEY idx_attachments_report (report_id),
		CONSTRAINT fk_attachments_report FOREIGN KEY (report_id) REFERENCES reports(id) ON DELETE CASCADE
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

// Migrate applies the schema.  It is safe to run on every start-up.
func Migrate(ctx context.Context, db *sql.DB) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate statement %d: %w", i+1, err)
		}
	}
	return nil
}
