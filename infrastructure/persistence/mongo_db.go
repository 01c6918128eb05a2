package persistence

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// NewMongoDb connects to MongoDB and pings it.
func NewMongoDb(host, port, user, password, authSource string) (*mongo.Client, error) {
	if host == "" {
		return nil, fmt.Errorf("mongo host not configured")
	}
	u := &url.URL{Scheme: "mongodb", Host: fmt.Sprintf("%s:%s", host, port)}
	if user != "" {
		u.User = url.UserPassword(user, password)
		if authSource != "" {
			u.RawQuery = url.Values{"authSource": []string{authSource}}.Encode()
		}
	}

	client, err := mongo.Connect(options.Client().ApplyURI(u.String()).SetConnectTimeout(5 * time.Second))
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return client, nil
}
