package api

// @title capturekit API
// @version v0.1.0
// @description Ingestion API for captured exchanges, scraped comment trees and user annotations.

// @host localhost:8778
// @BasePath /api
// @schemes http
