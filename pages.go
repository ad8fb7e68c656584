package main

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	MessageWelcomeBack   = "Welcome Back!"
	MessageWelcome       = "Welcome!"
	MessageConfirmEmail  = "Check your e-mail for a confirmation link!"
	MessageLoginFailed   = "Error logging in. Make sure to use a valid account e-mail and password, or sign up for a new account!"
	MessageSignUpFailed  = "Error communicating with Supabase, make sure to use a real e-mail and password with 6 character minimum!"
	MessageLoadFailed    = "Error loading images"
	MessageSearchFailed  = "Error with search results: "
	MessageConfirmDelete = "Are you sure you want to delete?"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"percent": func(v float64) string {
			return fmt.Sprintf("%.0f%%", v*100)
		},
	}).ParseFS(templateFS, "templates/*.html")
}

func (s *Server) indexPage(c *gin.Context) {
	user := currentUser(c)

	data := gin.H{
		"Flash":   popFlash(c),
		"User":    user,
		"Prompt":  "",
		"Confirm": MessageConfirmDelete,
	}

	if user == nil {
		c.HTML(http.StatusOK, "login.html", data)

		return
	}

	s.renderGallery(c, data)
}

func (s *Server) searchPage(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		redirectHome(c, "")

		return
	}

	prompt := c.Query("q")

	data := gin.H{
		"User":    user,
		"Prompt":  prompt,
		"Confirm": MessageConfirmDelete,
	}

	result, err := s.gallery.Search(c.Request.Context(), user, prompt)
	if err != nil {
		log.WarningF("Error with search results: %v\n", err)

		data["Flash"] = MessageSearchFailed + messageFor(err)
	} else {
		data["Search"] = result
	}

	s.renderGallery(c, data)
}

func (s *Server) renderGallery(c *gin.Context, data gin.H) {
	data["Suggestions"] = s.gallery.Suggestions()

	images, err := s.gallery.List(c.Request.Context(), currentUser(c))
	if err != nil {
		log.WarningF("Failed to load images: %v\n", err)

		data["Flash"] = MessageLoadFailed
	}

	data["Images"] = images

	c.HTML(http.StatusOK, "gallery.html", data)
}

func (s *Server) loginPage(c *gin.Context) {
	var req credentialsRequest

	_ = c.ShouldBind(&req)

	session, err := s.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.WarningF("Error logging in: %v\n", err)

		redirectHome(c, MessageLoginFailed)

		return
	}

	setSessionCookie(c, session)

	redirectHome(c, MessageWelcomeBack)
}

func (s *Server) signUpPage(c *gin.Context) {
	var req credentialsRequest

	_ = c.ShouldBind(&req)

	result, err := s.auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		log.WarningF("Error signing up: %v\n", err)

		redirectHome(c, MessageSignUpFailed)

		return
	}

	if result.ConfirmationPending || result.Session == nil {
		redirectHome(c, MessageConfirmEmail)

		return
	}

	setSessionCookie(c, result.Session)

	redirectHome(c, MessageWelcome)
}

func (s *Server) logoutPage(c *gin.Context) {
	if user := currentUser(c); user != nil {
		err := s.auth.SignOut(c.Request.Context(), user.Token)
		if err != nil {
			log.WarningF("Error logging out: %v\n", err)
		}
	}

	clearSessionCookie(c)

	redirectHome(c, "")
}

func (s *Server) uploadPage(c *gin.Context) {
	if currentUser(c) == nil {
		redirectHome(c, "")

		return
	}

	_, err := s.upload(c)
	if err != nil {
		redirectHome(c, messageFor(err))

		return
	}

	redirectHome(c, "")
}

func (s *Server) deletePage(c *gin.Context) {
	user := currentUser(c)
	if user == nil {
		redirectHome(c, "")

		return
	}

	err := s.gallery.Delete(c.Request.Context(), user, c.Param("name"))
	if err != nil {
		redirectHome(c, messageFor(err))

		return
	}

	redirectHome(c, "")
}
