package main

import (
	"context"
	"fmt"
	"strings"
)

func triggerFunctionName(table string) string {
	return table + "_scylla_replication"
}

func triggerName(table string) string {
	return table + "_scylla_replication_trigger"
}

// generateTriggerFunction builds the plpgsql function that mirrors
// row-level changes onto the foreign table. INSERT copies all NEW
// column values; UPDATE is keyed on the NEW primary-key values and
// sets only non-key columns; DELETE is keyed on the OLD primary-key
// values. The function returns NEW for INSERT/UPDATE and OLD for
// DELETE so the source operation itself is never blocked.
//
// A table whose columns are all part of the primary key has nothing an
// UPDATE could SET through the bridge, so its UPDATE branch replays
// the change as a delete of the OLD key and an insert of the NEW row.
func generateTriggerFunction(t Table, fdwSchema string) string {
	var colNames, newValues, setPairs []string
	for _, col := range t.Columns {
		ident := pgIdent(col.Name)
		colNames = append(colNames, ident)
		newValues = append(newValues, "NEW."+ident)
		if !t.isPKColumn(col.Name) {
			setPairs = append(setPairs, fmt.Sprintf("%s = NEW.%s", ident, ident))
		}
	}

	var whereNew, whereOld []string
	for _, pk := range t.PKColumns {
		ident := pgIdent(pk)
		whereNew = append(whereNew, fmt.Sprintf("%s = NEW.%s", ident, ident))
		whereOld = append(whereOld, fmt.Sprintf("%s = OLD.%s", ident, ident))
	}

	target := pgQualified(fdwSchema, t.Name)
	insertStmt := fmt.Sprintf("INSERT INTO %s (%s)\n        VALUES (%s);",
		target, strings.Join(colNames, ", "), strings.Join(newValues, ", "))
	deleteOldStmt := fmt.Sprintf("DELETE FROM %s\n        WHERE %s;",
		target, strings.Join(whereOld, " AND "))

	var updateBody string
	if len(setPairs) > 0 {
		updateBody = fmt.Sprintf("UPDATE %s\n        SET %s\n        WHERE %s;",
			target, strings.Join(setPairs, ", "), strings.Join(whereNew, " AND "))
	} else {
		updateBody = deleteOldStmt + "\n        " + insertStmt
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE OR REPLACE FUNCTION %s()\n",
		pgQualified(t.SchemaName, triggerFunctionName(t.Name)))
	b.WriteString("RETURNS TRIGGER AS $$\nBEGIN\n")
	fmt.Fprintf(&b, "    IF (TG_OP = 'DELETE') THEN\n        %s\n        RETURN OLD;\n", deleteOldStmt)
	fmt.Fprintf(&b, "    ELSIF (TG_OP = 'UPDATE') THEN\n        %s\n        RETURN NEW;\n", updateBody)
	fmt.Fprintf(&b, "    ELSIF (TG_OP = 'INSERT') THEN\n        %s\n        RETURN NEW;\n", insertStmt)
	b.WriteString("    END IF;\n    RETURN NULL;\nEND;\n$$ LANGUAGE plpgsql")
	return b.String()
}

// installReplicationTrigger installs the AFTER row trigger that keeps
// the foreign table in sync with the source table. Installation is
// idempotent: existing trigger and function of the same names are
// replaced. Once installed, every source write synchronously round
// trips through the bridge; a slow or unreachable target store will
// block source DML, which is the documented cost of this design.
func installReplicationTrigger(ctx context.Context, db pgExecutor, t Table, fdwSchema string) error {
	source := pgQualified(t.SchemaName, t.Name)

	dropTrigger := fmt.Sprintf("DROP TRIGGER IF EXISTS %s ON %s",
		pgIdent(triggerName(t.Name)), source)
	if _, err := db.Exec(ctx, dropTrigger); err != nil {
		return fmt.Errorf("drop trigger on %s: %w", t.Name, err)
	}

	dropFunc := fmt.Sprintf("DROP FUNCTION IF EXISTS %s CASCADE",
		pgQualified(t.SchemaName, triggerFunctionName(t.Name)))
	if _, err := db.Exec(ctx, dropFunc); err != nil {
		return fmt.Errorf("drop trigger function for %s: %w", t.Name, err)
	}

	if _, err := db.Exec(ctx, generateTriggerFunction(t, fdwSchema)); err != nil {
		return fmt.Errorf("create trigger function for %s: %w", t.Name, err)
	}

	createTrigger := fmt.Sprintf(
		"CREATE TRIGGER %s\nAFTER INSERT OR UPDATE OR DELETE ON %s\nFOR EACH ROW\nEXECUTE FUNCTION %s()",
		pgIdent(triggerName(t.Name)),
		source,
		pgQualified(t.SchemaName, triggerFunctionName(t.Name)),
	)
	if _, err := db.Exec(ctx, createTrigger); err != nil {
		return fmt.Errorf("create trigger on %s: %w", t.Name, err)
	}

	return nil
}
