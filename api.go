package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

type credentialsRequest struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

type searchRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) sessionHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"user": currentUser(c),
	})
}

func (s *Server) apiSignInHandler(c *gin.Context) {
	var req credentialsRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request")

		return
	}

	session, err := s.auth.SignIn(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, err)

		return
	}

	setSessionCookie(c, session)

	c.JSON(http.StatusOK, session)
}

func (s *Server) apiSignUpHandler(c *gin.Context) {
	var req credentialsRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request")

		return
	}

	result, err := s.auth.SignUp(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		abortWithError(c, err)

		return
	}

	if result.Session != nil {
		setSessionCookie(c, result.Session)
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) apiSignOutHandler(c *gin.Context) {
	user := currentUser(c)

	err := s.auth.SignOut(c.Request.Context(), user.Token)
	if err != nil {
		log.WarningF("Error logging out: %v\n", err)
	}

	clearSessionCookie(c)

	okResponse(c)
}

func (s *Server) listImagesHandler(c *gin.Context) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		errorResponse(c, http.StatusBadRequest, "invalid offset")

		return
	}

	images, err := s.gallery.Page(c.Request.Context(), currentUser(c), offset)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, images)
}

func (s *Server) uploadImageHandler(c *gin.Context) {
	image, err := s.upload(c)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, image)
}

func (s *Server) deleteImageHandler(c *gin.Context) {
	err := s.gallery.Delete(c.Request.Context(), currentUser(c), c.Param("name"))
	if err != nil {
		abortWithError(c, err)

		return
	}

	okResponse(c)
}

func (s *Server) searchHandler(c *gin.Context) {
	var req searchRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "invalid request")

		return
	}

	result, err := s.gallery.Search(c.Request.Context(), currentUser(c), req.Prompt)
	if err != nil {
		abortWithError(c, err)

		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) suggestionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.gallery.Suggestions())
}

func (s *Server) localImageHandler(c *gin.Context) {
	path, err := s.files.File(c.Param("user"), c.Param("name"))
	if err != nil {
		errorResponse(c, http.StatusNotFound, "not found")

		return
	}

	c.Header("Cache-Control", "public, max-age=31536000, immutable")

	c.File(path)
}
