package ledger

import (
	"context"
	"fmt"

	"github.com/imrishuroy/go-toy-activation/internal/aws"
	"github.com/imrishuroy/go-toy-activation/internal/config"
)

// Open builds the backend selected by cfg.Backend and prepares its schema.
// The returned close func releases connections; it is never nil.
// dynamo is only used by the dynamodb backend.
func Open(ctx context.Context, cfg config.LedgerConfig, dynamo aws.DynamoDBAPI) (Ledger, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory:
		return NewMemoryLedger(), noop, nil

	case config.BackendDynamoDB:
		if dynamo == nil {
			return nil, noop, fmt.Errorf("dynamodb backend needs a client")
		}
		return NewDynamoLedger(dynamo, cfg.Table), noop, nil

	case config.BackendPostgres:
		db := OpenPostgres(cfg.PostgresDSN)
		l := NewPostgresLedger(db)
		if err := l.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, noop, err
		}
		return l, db.Close, nil

	case config.BackendMongoDB:
		client, err := ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, noop, err
		}
		l := NewMongoLedger(client.Database(cfg.MongoDatabase).Collection(cfg.Table))
		if err := l.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, noop, err
		}
		return l, func() error { return client.Disconnect(context.Background()) }, nil
	}
	return nil, noop, fmt.Errorf("unknown ledger backend %q", cfg.Backend)
}
