package testutil

import "github.com/roach88/tview/internal/catalog"

// OrderSchema creates the source table of the order fixture.
const OrderSchema = `CREATE TABLE order_lines (
	line_id  INTEGER PRIMARY KEY,
	order_id INTEGER NOT NULL,
	qty      INTEGER NOT NULL,
	price    INTEGER NOT NULL
)`

// OrderLine is the per-line entity of the order fixture.
func OrderLine() *catalog.Entity {
	return &catalog.Entity{
		Name:      "order_line",
		Source:    "order_lines",
		KeyColumn: "line_id",
		Query: `SELECT line_id AS pk,
	json_object('id', line_id, 'order_id', order_id, 'qty', qty, 'price', price) AS data
FROM order_lines`,
	}
}

// OrderSummary aggregates order lines per order. It has no source table:
// it is refreshed only through its lineage from order_line.
func OrderSummary() *catalog.Entity {
	return &catalog.Entity{
		Name: "order_summary",
		Query: `SELECT order_id AS pk,
	json_object('id', order_id, 'total', SUM(qty * price), 'lines', COUNT(*)) AS data
FROM order_lines GROUP BY order_id`,
		Dependencies: []string{"order_line"},
		Lineage: []catalog.LineagePath{{
			Child:    "order_line",
			FKColumn: "order_id",
			Parent:   "order_summary",
			Holder:   catalog.HolderChild,
		}},
	}
}

// BlogSchema creates the source tables of the three-level blog fixture.
const BlogSchema = `CREATE TABLE users (
	id   INTEGER PRIMARY KEY,
	name TEXT NOT NULL
);
CREATE TABLE posts (
	id        INTEGER PRIMARY KEY,
	author_id INTEGER NOT NULL REFERENCES users(id),
	title     TEXT NOT NULL
)`

// User is the level one entity of the blog fixture.
func User() *catalog.Entity {
	return &catalog.Entity{
		Name:      "blog_user",
		Source:    "users",
		KeyColumn: "id",
		Query:     `SELECT id AS pk, json_object('id', id, 'name', name) AS data FROM users`,
	}
}

// Post embeds its author's name. The post document holds the author key.
func Post() *catalog.Entity {
	return &catalog.Entity{
		Name:      "blog_post",
		Source:    "posts",
		KeyColumn: "id",
		Query: `SELECT p.id AS pk,
	json_object('id', p.id, 'title', p.title, 'author_id', p.author_id, 'author', u.name) AS data
FROM posts p JOIN users u ON u.id = p.author_id`,
		Dependencies: []string{"blog_user"},
		Lineage: []catalog.LineagePath{{
			Child:    "blog_user",
			FKColumn: "author_id",
			Parent:   "blog_post",
			Holder:   catalog.HolderParent,
		}},
	}
}

// AuthorDigest counts posts per author and is reached only through posts.
func AuthorDigest() *catalog.Entity {
	return &catalog.Entity{
		Name: "author_digest",
		Query: `SELECT p.author_id AS pk,
	json_object('id', p.author_id, 'author', u.name, 'posts', COUNT(*)) AS data
FROM posts p JOIN users u ON u.id = p.author_id
GROUP BY p.author_id, u.name`,
		Dependencies: []string{"blog_post"},
		Lineage: []catalog.LineagePath{{
			Child:    "blog_post",
			FKColumn: "author_id",
			Parent:   "author_digest",
			Holder:   catalog.HolderChild,
		}},
	}
}

// PostView is Post without a user entity: it reads the users table
// directly and reaches it through a table lineage path.
func PostView() *catalog.Entity {
	e := Post()
	e.Name = "post_view"
	e.Dependencies = []string{"users"}
	e.Lineage = []catalog.LineagePath{{
		Child:    "users",
		FKColumn: "author_id",
		Parent:   "post_view",
	}}
	return e
}
