package domain

// Workspace is a Baserow workspace visible to the token.
type Workspace struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Table is a Baserow table together with the database that owns it.
type Table struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	DatabaseID   int    `json:"databaseId"`
	DatabaseName string `json:"databaseName"`
}

// Field describes a table column.
type Field struct {
	ID      int    `json:"id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Primary bool   `json:"primary"`
}
