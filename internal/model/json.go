package model

import "github.com/jmoiron/sqlx/types"

// JSONText aliases sqlx's JSON column helper so callers stay on the model package.
type JSONText = types.JSONText
