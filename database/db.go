package database

import (
	"database/sql"
	"log"
	"sync"

	"github.com/replyloop/autopilot/config"
	"github.com/replyloop/autopilot/internal/vault"
)

// Declare a package-level variable to hold the singleton instance.
// Ensure the instance is not accessible outside the package.
var instance *Datasource
var once sync.Once

type Datasource struct {
	Conn  *sql.DB
	Vault *vault.Vault
}

func NewDataSource(configuration *config.Configuration) (IDataSource, error) {
	con, err := GetDBConnection(configuration)
	if err != nil {
		return nil, err
	}
	return con, nil
}

// GetDBConnection provides a global access point to the instance and initializes it if it's not already.
func GetDBConnection(configuration *config.Configuration) (*Datasource, error) {
	var err error
	once.Do(func() {
		con, errConn := ConnectDB(configuration.DataSource.Dns)
		if errConn != nil {
			err = errConn
			return
		}
		v, errVault := vault.New(configuration.Vault.EncryptionKey)
		if errVault != nil {
			err = errVault
			return
		}
		instance = &Datasource{Conn: con, Vault: v}
	})
	if err != nil {
		return nil, err
	}
	return instance, nil
}

func ConnectDB(dns string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dns)
	if err != nil {
		return nil, err
	}
	err = db.Ping()
	if err != nil {
		log.Printf("database Connection error ❌: %v", err)
		return nil, err
	}
	err = createQueueItemTable(db)
	if err != nil {
		return nil, err
	}
	err = createScheduledPostTable(db)
	if err != nil {
		return nil, err
	}
	err = createPolicyTable(db)
	if err != nil {
		return nil, err
	}
	err = createCredentialTable(db)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// createQueueItemTable creates a PostgreSQL table for the QueueItem struct
func createQueueItemTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS queue_items (
			id SERIAL PRIMARY KEY,
			queue_item_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL,
			target_id TEXT,
			target_user TEXT,
			payload TEXT NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'sent', 'failed', 'cancelled')),
			scheduled_for TIMESTAMP NOT NULL,
			retry_count INTEGER NOT NULL DEFAULT 0,
			claimed_at TIMESTAMP,
			last_error TEXT,
			sent_at TIMESTAMP,
			platform_post_id TEXT,
			author_handle TEXT,
			author_verified BOOLEAN NOT NULL DEFAULT FALSE,
			author_followers INTEGER NOT NULL DEFAULT 0,
			content_created_at TIMESTAMP,
			sentiment TEXT,
			is_retweet BOOLEAN NOT NULL DEFAULT FALSE,
			is_reply BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating queue_items table: %v", err)
	}
	return err
}

// createScheduledPostTable creates a PostgreSQL table for the ScheduledPost struct
func createScheduledPostTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS scheduled_posts (
			id SERIAL PRIMARY KEY,
			post_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL,
			parts JSONB NOT NULL,
			status TEXT NOT NULL CHECK (status IN ('pending', 'processing', 'sent', 'failed', 'cancelled')),
			scheduled_for TIMESTAMP NOT NULL,
			published_count INTEGER NOT NULL DEFAULT 0,
			retry_count INTEGER NOT NULL DEFAULT 0,
			claimed_at TIMESTAMP,
			last_error TEXT,
			sent_at TIMESTAMP,
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		log.Printf("Error creating scheduled_posts table: %v", err)
	}
	return err
}

// createPolicyTable creates a PostgreSQL table for the AutomationPolicy struct
func createPolicyTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS automation_policies (
			id SERIAL PRIMARY KEY,
			policy_id TEXT NOT NULL UNIQUE,
			account_id TEXT NOT NULL UNIQUE,
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			max_per_day INTEGER NOT NULL,
			max_per_hour INTEGER NOT NULL,
			min_interval_global_sec INTEGER NOT NULL,
			min_interval_per_target_sec INTEGER NOT NULL,
			active_start TEXT NOT NULL,
			active_end TEXT NOT NULL,
			active_days INTEGER[] NOT NULL,
			sentiment_filter TEXT NOT NULL,
			verified_only BOOLEAN NOT NULL DEFAULT FALSE,
			skip_retweets BOOLEAN NOT NULL DEFAULT FALSE,
			skip_replies BOOLEAN NOT NULL DEFAULT FALSE,
			min_follower_count INTEGER NOT NULL DEFAULT 0,
			max_content_age_sec INTEGER NOT NULL,
			pause_on_block BOOLEAN NOT NULL DEFAULT TRUE,
			pause_on_rate_limit BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating automation_policies table: %v", err)
	}
	return err
}

// createCredentialTable creates a PostgreSQL table for the Credential struct
func createCredentialTable(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS credentials (
			id SERIAL PRIMARY KEY,
			account_id TEXT NOT NULL UNIQUE,
			access_token TEXT,
			refresh_token TEXT,
			last_activity TIMESTAMP,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP
		)
	`)
	if err != nil {
		log.Printf("Error creating credentials table: %v", err)
	}
	return err
}
