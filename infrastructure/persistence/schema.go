package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying vectorizer ids.
const NotifyChannel = "vecsync_work"

const pgCreateVectorExtension = `CREATE EXTENSION IF NOT EXISTS vector`

// Schema creates and drops the database objects a vectorizer owns: its
// queue table, store table, view and capture triggers.
type Schema struct {
	db database.Database
}

// NewSchema creates a new Schema.
func NewSchema(db database.Database) Schema {
	return Schema{db: db}
}

// Create provisions the vectorizer's objects. columns describes the source
// table; tracked lists the columns whose updates enqueue work. Run it inside
// a transaction so a failure leaves nothing behind.
func (s Schema) Create(ctx context.Context, v vectorizer.Vectorizer, columns []source.Column, tracked []string) error {
	pk, err := keyColumns(v, columns)
	if err != nil {
		return err
	}

	var statements []string
	if s.db.IsPostgres() {
		statements = append(statements, pgCreateVectorExtension)
	}
	statements = append(statements,
		s.queueTableSQL(v, pk),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s)`,
			database.QuoteIdent(v.QueueTable()+"_key_idx"),
			database.QuoteIdent(v.QueueTable()),
			database.QuoteIdents(v.PrimaryKey()),
		),
		s.storeTableSQL(v, pk),
		viewSQL(v, columns),
	)
	statements = append(statements, s.triggerSQL(v, tracked)...)

	session := s.db.Session(ctx)
	for _, stmt := range statements {
		if err := session.Exec(stmt).Error; err != nil {
			return fmt.Errorf("provision %s: %w", v.Name(), err)
		}
	}
	return nil
}

// Backfill enqueues every existing source key. Requeue uses it too.
func (s Schema) Backfill(ctx context.Context, v vectorizer.Vectorizer) error {
	cols := database.QuoteIdents(v.PrimaryKey())
	stmt := fmt.Sprintf(`INSERT INTO %s (%s) SELECT %s FROM %s`,
		database.QuoteIdent(v.QueueTable()), cols, cols, database.QuoteIdent(v.SourceTable()))
	if err := s.db.Session(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("backfill %s: %w", v.Name(), err)
	}
	return nil
}

// Drop removes the triggers and queue. The store table and view are kept
// unless dropAll is set.
func (s Schema) Drop(ctx context.Context, v vectorizer.Vectorizer, dropAll bool) error {
	var statements []string
	if s.db.IsPostgres() {
		statements = append(statements,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s ON %s`,
				database.QuoteIdent(v.QueueTable()+"_trigger"), database.QuoteIdent(v.SourceTable())),
			fmt.Sprintf(`DROP FUNCTION IF EXISTS %s()`, database.QuoteIdent(v.QueueTable()+"_enqueue")),
		)
	} else {
		statements = append(statements,
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s`, database.QuoteIdent(v.QueueTable()+"_insert")),
			fmt.Sprintf(`DROP TRIGGER IF EXISTS %s`, database.QuoteIdent(v.QueueTable()+"_update")),
		)
	}
	statements = append(statements, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, database.QuoteIdent(v.QueueTable())))
	if dropAll {
		statements = append(statements,
			fmt.Sprintf(`DROP VIEW IF EXISTS %s`, database.QuoteIdent(v.ViewName())),
			fmt.Sprintf(`DROP TABLE IF EXISTS %s`, database.QuoteIdent(v.StoreTable())),
		)
	}

	session := s.db.Session(ctx)
	for _, stmt := range statements {
		if err := session.Exec(stmt).Error; err != nil {
			return fmt.Errorf("drop %s: %w", v.Name(), err)
		}
	}
	return nil
}

func (s Schema) queueTableSQL(v vectorizer.Vectorizer, pk []source.Column) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", database.QuoteIdent(v.QueueTable()))
	if s.db.IsPostgres() {
		fmt.Fprintf(&b, "    %s BIGSERIAL PRIMARY KEY,\n", queue.ColumnID)
	} else {
		fmt.Fprintf(&b, "    %s INTEGER PRIMARY KEY AUTOINCREMENT,\n", queue.ColumnID)
	}
	for _, c := range pk {
		fmt.Fprintf(&b, "    %s %s NOT NULL,\n", database.QuoteIdent(c.Name()), c.DatabaseType())
	}
	if s.db.IsPostgres() {
		fmt.Fprintf(&b, "    %s TIMESTAMPTZ NOT NULL DEFAULT now()\n", queue.ColumnQueuedAt)
	} else {
		fmt.Fprintf(&b, "    %s TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,\n", queue.ColumnQueuedAt)
		fmt.Fprintf(&b, "    %s TEXT,\n", queue.ColumnClaimedBy)
		fmt.Fprintf(&b, "    %s INTEGER\n", queue.ColumnClaimedUntil)
	}
	b.WriteString(")")
	return b.String()
}

func (s Schema) storeTableSQL(v vectorizer.Vectorizer, pk []source.Column) string {
	idType, vectorType := "TEXT", "TEXT"
	if s.db.IsPostgres() {
		idType, vectorType = "UUID", fmt.Sprintf("VECTOR(%d)", v.Dimensions())
	}
	keys := database.QuoteIdents(v.PrimaryKey())

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE %s (\n", database.QuoteIdent(v.StoreTable()))
	fmt.Fprintf(&b, "    %s %s PRIMARY KEY,\n", embedding.ColumnID, idType)
	for _, c := range pk {
		fmt.Fprintf(&b, "    %s %s NOT NULL,\n", database.QuoteIdent(c.Name()), c.DatabaseType())
	}
	fmt.Fprintf(&b, "    %s INTEGER NOT NULL,\n", embedding.ColumnSeq)
	fmt.Fprintf(&b, "    %s TEXT NOT NULL,\n", embedding.ColumnChunk)
	fmt.Fprintf(&b, "    %s %s NOT NULL,\n", embedding.ColumnEmbedding, vectorType)
	fmt.Fprintf(&b, "    UNIQUE (%s, %s),\n", keys, embedding.ColumnSeq)
	fmt.Fprintf(&b, "    FOREIGN KEY (%s) REFERENCES %s (%s) ON DELETE CASCADE ON UPDATE CASCADE\n",
		keys, database.QuoteIdent(v.SourceTable()), keys)
	b.WriteString(")")
	return b.String()
}

func viewSQL(v vectorizer.Vectorizer, columns []source.Column) string {
	selected := []string{"s.*"}
	for _, c := range columns {
		if !c.PrimaryKey() {
			selected = append(selected, "t."+database.QuoteIdent(c.Name()))
		}
	}
	join := make([]string, 0, len(v.PrimaryKey()))
	for _, k := range v.PrimaryKey() {
		q := database.QuoteIdent(k)
		join = append(join, fmt.Sprintf("s.%s = t.%s", q, q))
	}
	return fmt.Sprintf(`CREATE VIEW %s AS SELECT %s FROM %s s JOIN %s t ON %s`,
		database.QuoteIdent(v.ViewName()),
		strings.Join(selected, ", "),
		database.QuoteIdent(v.StoreTable()),
		database.QuoteIdent(v.SourceTable()),
		strings.Join(join, " AND "),
	)
}

func (s Schema) triggerSQL(v vectorizer.Vectorizer, tracked []string) []string {
	queue := database.QuoteIdent(v.QueueTable())
	src := database.QuoteIdent(v.SourceTable())
	cols := database.QuoteIdents(v.PrimaryKey())
	newValues := make([]string, 0, len(v.PrimaryKey()))
	for _, k := range v.PrimaryKey() {
		newValues = append(newValues, "NEW."+database.QuoteIdent(k))
	}
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s);", queue, cols, strings.Join(newValues, ", "))
	updateOf := database.QuoteIdents(tracked)

	if s.db.IsPostgres() {
		fn := database.QuoteIdent(v.QueueTable() + "_enqueue")
		return []string{
			fmt.Sprintf(`CREATE OR REPLACE FUNCTION %s() RETURNS trigger LANGUAGE plpgsql AS $vecsync$
BEGIN
    %s
    PERFORM pg_notify('%s', '%d');
    RETURN NULL;
END;
$vecsync$`, fn, insert, NotifyChannel, v.ID()),
			fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT OR UPDATE OF %s ON %s FOR EACH ROW EXECUTE FUNCTION %s()`,
				database.QuoteIdent(v.QueueTable()+"_trigger"), updateOf, src, fn),
		}
	}
	return []string{
		fmt.Sprintf(`CREATE TRIGGER %s AFTER INSERT ON %s BEGIN %s END`,
			database.QuoteIdent(v.QueueTable()+"_insert"), src, insert),
		fmt.Sprintf(`CREATE TRIGGER %s AFTER UPDATE OF %s ON %s BEGIN %s END`,
			database.QuoteIdent(v.QueueTable()+"_update"), updateOf, src, insert),
	}
}

// keyColumns returns the source columns of the vectorizer's primary key, in
// key order.
func keyColumns(v vectorizer.Vectorizer, columns []source.Column) ([]source.Column, error) {
	byName := make(map[string]source.Column, len(columns))
	for _, c := range columns {
		byName[c.Name()] = c
	}
	pk := make([]source.Column, 0, len(v.PrimaryKey()))
	for _, name := range v.PrimaryKey() {
		c, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: primary key column %s not found in %s", vectorizer.ErrInvalidConfig, name, v.SourceTable())
		}
		pk = append(pk, c)
	}
	return pk, nil
}
