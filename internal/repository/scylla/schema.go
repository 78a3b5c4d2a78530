package scylla

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		user_id text PRIMARY KEY,
		username text,
		email_sealed text,
		email_index text,
		password_hash text,
		created_at timestamp,
		last_login timestamp,
		last_login_ip_sealed text
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_username (
		username text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS users_by_email (
		email_index text PRIMARY KEY,
		user_id text
	)`,
	`CREATE TABLE IF NOT EXISTS comments_by_video (
		video_id text,
		created_at timestamp,
		comment_id text,
		author text,
		body text,
		PRIMARY KEY ((video_id), created_at, comment_id)
	) WITH CLUSTERING ORDER BY (created_at DESC, comment_id DESC)`,
}

const (
	insertUsername = `INSERT INTO users_by_username (username, user_id) VALUES (?, ?) IF NOT EXISTS`
	deleteUsername = `DELETE FROM users_by_username WHERE username = ?`
	insertEmail    = `INSERT INTO users_by_email (email_index, user_id) VALUES (?, ?) IF NOT EXISTS`
	deleteEmail    = `DELETE FROM users_by_email WHERE email_index = ?`
	getUsername    = `SELECT user_id FROM users_by_username WHERE username = ?`
	getEmail       = `SELECT user_id FROM users_by_email WHERE email_index = ?`

	insertUser = `INSERT INTO users (user_id, username, email_sealed, email_index, password_hash, created_at, last_login, last_login_ip_sealed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	getUser = `SELECT user_id, username, email_sealed, email_index, password_hash, created_at, last_login, last_login_ip_sealed
		FROM users WHERE user_id = ?`
	updateLastLogin = `UPDATE users SET last_login = ?, last_login_ip_sealed = ? WHERE user_id = ? IF EXISTS`

	insertComment = `INSERT INTO comments_by_video (video_id, created_at, comment_id, author, body) VALUES (?, ?, ?, ?, ?)`
	listComments  = `SELECT comment_id, video_id, author, body, created_at FROM comments_by_video WHERE video_id = ? LIMIT ?`
)
