package schema

import (
	"strings"

	"github.com/saltyorg/quicksell/internal/database"
	"github.com/saltyorg/quicksell/internal/entity"
)

func quoteList(d database.Dialect, names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = d.Quote(n)
	}
	return strings.Join(quoted, ", ")
}

func references(d database.Dialect, c *entity.Column) string {
	clause := "REFERENCES " + d.Quote(c.References) + " (" + d.Quote("id") + ")"
	if c.OnDelete != "" {
		clause += " ON DELETE " + c.OnDelete
	}
	return clause
}

// columnDef renders a column definition. inlineFK controls whether a
// foreign key is declared on the column itself.
func columnDef(d database.Dialect, c *entity.Column, notNull, inlineFK bool) string {
	if c.PrimaryKey {
		return d.Quote(c.Name) + " " + d.PrimaryKey()
	}
	def := d.Quote(c.Name) + " " + d.ColumnType(c.Kind)
	if notNull {
		def += " NOT NULL"
	}
	if c.Default != "" {
		def += " DEFAULT " + c.Default
	}
	if inlineFK && c.References != "" {
		def += " " + references(d, c)
	}
	return def
}

func createTableSQL(d database.Dialect, t *entity.Table, deferred map[string]bool) string {
	defs := make([]string, 0, len(t.Columns)+1)
	for _, c := range t.Columns {
		defs = append(defs, columnDef(d, c, c.NotNull, !deferred[c.Name]))
	}
	if len(t.CompositeKey) > 0 {
		defs = append(defs, "PRIMARY KEY ("+quoteList(d, t.CompositeKey)+")")
	}
	return "CREATE TABLE " + d.Quote(t.Name) + " (\n\t" + strings.Join(defs, ",\n\t") + "\n)"
}

func addColumnSQL(d database.Dialect, table string, c *entity.Column, notNull, inlineFK bool) string {
	return "ALTER TABLE " + d.Quote(table) + " ADD COLUMN " + columnDef(d, c, notNull, inlineFK)
}

func addForeignKeySQL(d database.Dialect, table string, c *entity.Column) string {
	return "ALTER TABLE " + d.Quote(table) +
		" ADD CONSTRAINT " + d.Quote("fk_"+table+"_"+c.Name) +
		" FOREIGN KEY (" + d.Quote(c.Name) + ") " + references(d, c)
}

func createIndexSQL(d database.Dialect, table string, ix entity.Index) string {
	kind := "INDEX"
	if ix.Unique {
		kind = "UNIQUE INDEX"
	}
	return "CREATE " + kind + " " + d.Quote(ix.Name) + " ON " + d.Quote(table) + " (" + quoteList(d, ix.Columns) + ")"
}
