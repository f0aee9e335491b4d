package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"immochat/models"
	"immochat/pkg/config"
	utils "immochat/pkg/utills"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// seedadmin creates (or resets the password of) a back-office admin account.
//
//	go run ./cmd/seedadmin -email agence@example.com -password s3cret -first-name Sophie
func main() {
	email := flag.String("email", "", "admin email")
	password := flag.String("password", "", "admin password")
	firstName := flag.String("first-name", "Admin", "admin first name")
	lastName := flag.String("last-name", "", "admin last name")
	flag.Parse()

	*email = strings.TrimSpace(strings.ToLower(*email))
	if *email == "" || *password == "" {
		fmt.Fprintln(os.Stderr, "usage: seedadmin -email <email> -password <password> [-first-name <name>]")
		os.Exit(2)
	}
	if !utils.HasLetter(*password) || !utils.HasNumber(*password) {
		fmt.Fprintln(os.Stderr, "password must contain at least one letter and one number")
		os.Exit(2)
	}

	db, err := gorm.Open(mysql.Open(config.DatabaseDSN), &gorm.Config{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect database: %v\n", err)
		os.Exit(1)
	}
	if err := db.AutoMigrate(&models.User{}); err != nil {
		fmt.Fprintf(os.Stderr, "failed migrate: %v\n", err)
		os.Exit(1)
	}

	var user models.User
	err = db.Where("email = ?", *email).First(&user).Error
	switch {
	case err == nil:
		user.Role = models.AccountRoleAdmin
		user.FirstName = *firstName
		user.LastName = *lastName
		if err := user.SetPassword(*password); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set password: %v\n", err)
			os.Exit(1)
		}
		if err := db.Save(&user).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to update admin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("admin %s updated (id=%d)\n", user.Email, user.ID)
	case err == gorm.ErrRecordNotFound:
		user = models.User{
			Email:     *email,
			FirstName: *firstName,
			LastName:  *lastName,
			Role:      models.AccountRoleAdmin,
		}
		if err := user.SetPassword(*password); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set password: %v\n", err)
			os.Exit(1)
		}
		if err := db.Create(&user).Error; err != nil {
			fmt.Fprintf(os.Stderr, "failed to create admin: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("admin %s created (id=%d)\n", user.Email, user.ID)
	default:
		fmt.Fprintf(os.Stderr, "db error: %v\n", err)
		os.Exit(1)
	}
}
