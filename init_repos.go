// Package main: Repository katmanı başlatma.
package main

import (
	"database/sql"

	"github.com/akinalp/mqvicall/repository"
)

// Repositories, repository instance'larını tutan container struct.
type Repositories struct {
	User    repository.UserRepository
	CallLog repository.CallLogRepository
}

// initRepositories, tek bir *sql.DB pool'undan tüm repository'leri oluşturur.
func initRepositories(conn *sql.DB) *Repositories {
	return &Repositories{
		User:    repository.NewSQLiteUserRepo(conn),
		CallLog: repository.NewSQLiteCallLogRepo(conn),
	}
}
