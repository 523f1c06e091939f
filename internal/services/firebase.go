package services

import (
	"context"
	"os"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

// InitFirebase initializes the Firebase Admin SDK and returns an auth client.
// Credentials come from a file path, or inline JSON via
// FIREBASE_CREDENTIALS_JSON when no file is configured.
func InitFirebase(credPath string) (*auth.Client, error) {
	var opts []option.ClientOption
	if credPath != "" {
		opts = append(opts, option.WithCredentialsFile(credPath))
	} else if credJSON := os.Getenv("FIREBASE_CREDENTIALS_JSON"); credJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(credJSON)))
	}

	app, err := firebase.NewApp(context.Background(), nil, opts...)
	if err != nil {
		return nil, err
	}
	return app.Auth(context.Background())
}
