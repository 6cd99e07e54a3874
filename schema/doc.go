// Package schema defines the schema-update descriptors migrations are built
// from. Each descriptor renders one DDL statement and validates itself against
// a Catalog describing the current database state.
//
// Migration files return ordered sequences of updates from their upgrade and
// downgrade functions:
//
//	func upgrade() []schema.Update {
//		return []schema.Update{
//			schema.CreateTable{
//				Table: "users",
//				Fields: []schema.Field{
//					{Name: "id", Type: schema.Int64, PrimaryKey: true},
//					{Name: "email", Type: schema.String, Size: 255},
//				},
//				PrimaryKeys: []string{"id"},
//			},
//		}
//	}
//
// The executor validates every update in a sequence before applying any of
// them, then applies the rendered statements in order inside one transaction.
package schema
