package pan123index

const nodeColumns = `file_id, parent_id, name, is_dir, size, etag, updated_at`

const (
	sqlChild = `SELECT ` + nodeColumns + ` FROM file_nodes WHERE parent_id = ? AND name = ?`

	sqlFindDirChild = `SELECT ` + nodeColumns + `
		FROM file_nodes WHERE parent_id = ? AND name = ? AND is_dir = 1`

	sqlChildren = `SELECT ` + nodeColumns + ` FROM file_nodes WHERE parent_id = ? ORDER BY name`

	sqlUpsertByPK = `INSERT INTO file_nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_id) DO UPDATE SET
			parent_id  = excluded.parent_id,
			name       = excluded.name,
			is_dir     = excluded.is_dir,
			size       = excluded.size,
			etag       = excluded.etag,
			updated_at = excluded.updated_at`

	sqlUpsertByParentName = `INSERT INTO file_nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_id, name) DO UPDATE SET
			file_id    = excluded.file_id,
			is_dir     = excluded.is_dir,
			size       = excluded.size,
			etag       = excluded.etag,
			updated_at = excluded.updated_at`

	sqlDeleteByID = `DELETE FROM file_nodes WHERE file_id = ?`

	sqlCount = `SELECT COUNT(*) FROM file_nodes`

	sqlTruncate = `DELETE FROM file_nodes`

	sqlInsertIgnore = `INSERT INTO file_nodes (` + nodeColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(parent_id, name) DO NOTHING`

	sqlGetToken = `SELECT access_token, expires_at FROM tokens WHERE id = 1`

	sqlSaveToken = `INSERT INTO tokens (id, access_token, expires_at)
		VALUES (1, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			access_token = excluded.access_token,
			expires_at   = excluded.expires_at`
)
